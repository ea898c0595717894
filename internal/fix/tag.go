package fix

import "strconv"

// Tag 为 FIX 字段编号。
type Tag int

func (t Tag) String() string {
	return strconv.Itoa(int(t))
}

// 会话层与常用业务字段。
const (
	TagBeginSeqNo            Tag = 7
	TagBeginString           Tag = 8
	TagBodyLength            Tag = 9
	TagCheckSum              Tag = 10
	TagClOrdID               Tag = 11
	TagEndSeqNo              Tag = 16
	TagMsgSeqNum             Tag = 34
	TagMsgType               Tag = 35
	TagNewSeqNo              Tag = 36
	TagOrderQty              Tag = 38
	TagOrdType               Tag = 40
	TagPossDupFlag           Tag = 43
	TagRefSeqNum             Tag = 45
	TagSenderCompID          Tag = 49
	TagSenderSubID           Tag = 50
	TagSendingTime           Tag = 52
	TagSide                  Tag = 54
	TagSymbol                Tag = 55
	TagTargetCompID          Tag = 56
	TagTargetSubID           Tag = 57
	TagText                  Tag = 58
	TagTransactTime          Tag = 60
	TagSignature             Tag = 89
	TagSignatureLength       Tag = 93
	TagPossResend            Tag = 97
	TagEncryptMethod         Tag = 98
	TagHeartBtInt            Tag = 108
	TagTestReqID             Tag = 112
	TagOnBehalfOfCompID      Tag = 115
	TagOrigSendingTime       Tag = 122
	TagGapFillFlag           Tag = 123
	TagDeliverToCompID       Tag = 128
	TagResetSeqNumFlag       Tag = 141
	TagSenderLocationID      Tag = 142
	TagTargetLocationID      Tag = 143
	TagRefTagID              Tag = 371
	TagRefMsgType            Tag = 372
	TagSessionRejectReason   Tag = 373
	TagBusinessRejectRefID   Tag = 379
	TagBusinessRejectReason  Tag = 380
	TagUsername              Tag = 553
	TagPassword              Tag = 554
	TagNextExpectedMsgSeqNum Tag = 789
	TagDefaultApplVerID      Tag = 1137
)

// 会话层消息类型。
const (
	MsgTypeHeartbeat       = "0"
	MsgTypeTestRequest     = "1"
	MsgTypeResendRequest   = "2"
	MsgTypeReject          = "3"
	MsgTypeSequenceReset   = "4"
	MsgTypeLogout          = "5"
	MsgTypeExecutionReport = "8"
	MsgTypeLogon           = "A"
	MsgTypeNewOrderSingle  = "D"
	MsgTypeBusinessReject  = "j"
)

// BeginString 取值。
const (
	BeginStringFIX40  = "FIX.4.0"
	BeginStringFIX41  = "FIX.4.1"
	BeginStringFIX42  = "FIX.4.2"
	BeginStringFIX43  = "FIX.4.3"
	BeginStringFIX44  = "FIX.4.4"
	BeginStringFIXT11 = "FIXT.1.1"
)

var headerTags = map[Tag]struct{}{
	TagBeginString:      {},
	TagBodyLength:       {},
	TagMsgType:          {},
	TagSenderCompID:     {},
	TagTargetCompID:     {},
	TagOnBehalfOfCompID: {},
	TagDeliverToCompID:  {},
	TagSenderSubID:      {},
	TagSenderLocationID: {},
	TagTargetSubID:      {},
	TagTargetLocationID: {},
	TagPossDupFlag:      {},
	TagPossResend:       {},
	TagSendingTime:      {},
	TagOrigSendingTime:  {},
	TagMsgSeqNum:        {},
	90:                  {}, // SecureDataLen
	91:                  {}, // SecureData
	116:                 {}, // OnBehalfOfSubID
	129:                 {}, // DeliverToSubID
	144:                 {}, // OnBehalfOfLocationID
	145:                 {}, // DeliverToLocationID
	212:                 {}, // XmlDataLen
	213:                 {}, // XmlData
	347:                 {}, // MessageEncoding
	369:                 {}, // LastMsgSeqNumProcessed
	627:                 {}, // NoHops
	628:                 {}, // HopCompID
	629:                 {}, // HopSendingTime
	630:                 {}, // HopRefID
	1128:                {}, // ApplVerID
	1129:                {}, // CstmApplVerID
}

var trailerTags = map[Tag]struct{}{
	TagSignatureLength: {},
	TagSignature:       {},
	TagCheckSum:        {},
}

// IsHeaderTag 判断 tag 是否属于标准消息头。
func IsHeaderTag(tag Tag) bool {
	_, ok := headerTags[tag]
	return ok
}

// IsTrailerTag 判断 tag 是否属于标准消息尾。
func IsTrailerTag(tag Tag) bool {
	_, ok := trailerTags[tag]
	return ok
}

// IsAdminMsgType 判断消息类型是否为会话层管理消息。
func IsAdminMsgType(msgType string) bool {
	switch msgType {
	case MsgTypeHeartbeat, MsgTypeTestRequest, MsgTypeResendRequest,
		MsgTypeReject, MsgTypeSequenceReset, MsgTypeLogout, MsgTypeLogon:
		return true
	}
	return false
}

// IsUserDefinedTag 判断 tag 是否位于用户自定义区间。
func IsUserDefinedTag(tag Tag) bool {
	return tag >= 5000 && tag <= 9999
}
