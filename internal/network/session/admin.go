package session

import (
	"time"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// BusinessRejectReason(380) 取值：不支持的消息类型。
const businessRejectUnsupportedMsgType = 3

func (s *Session) newLogon(resetSeqNum bool) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeLogon)
	msg.Body.SetInt(fix.TagEncryptMethod, 0)
	msg.Body.SetInt(fix.TagHeartBtInt, int(s.heartBtInt/time.Second))
	if resetSeqNum {
		msg.Body.SetBool(fix.TagResetSeqNumFlag, true)
	}
	if s.id.BeginString == fix.BeginStringFIXT11 && s.cfg.DefaultApplVerID != "" {
		msg.Body.Set(fix.TagDefaultApplVerID, s.cfg.DefaultApplVerID)
	}
	return msg
}

func (s *Session) newLogout(text string) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeLogout)
	if text != "" {
		msg.Body.Set(fix.TagText, text)
	}
	return msg
}

func (s *Session) newHeartbeat(testReqID string) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeHeartbeat)
	if testReqID != "" {
		msg.Body.Set(fix.TagTestReqID, testReqID)
	}
	return msg
}

func (s *Session) newTestRequest(testReqID string) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeTestRequest)
	msg.Body.Set(fix.TagTestReqID, testReqID)
	return msg
}

func (s *Session) newResendRequest(begin, end int) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeResendRequest)
	msg.Body.SetInt(fix.TagBeginSeqNo, begin)
	msg.Body.SetInt(fix.TagEndSeqNo, end)
	return msg
}

// newGapFill 构造补发时使用的 SequenceReset-GapFill，序号由调用方写入。
func (s *Session) newGapFill(newSeqNo int) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeSequenceReset)
	msg.Body.SetBool(fix.TagGapFillFlag, true)
	msg.Body.SetInt(fix.TagNewSeqNo, newSeqNo)
	return msg
}

// newReject 根据校验错误构造会话层 Reject。
func (s *Session) newReject(ref *fix.Message, cause error) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeReject)
	if seq, err := ref.SeqNum(); err == nil {
		msg.Body.SetInt(fix.TagRefSeqNum, seq)
	}
	// 373/371/372 自 FIX.4.2 起才有定义。
	if s.atLeastFIX42() {
		if reason, ok := merr.RejectReason(cause); ok {
			msg.Body.SetInt(fix.TagSessionRejectReason, reason)
		}
		if tag := merr.RefTagID(cause); tag > 0 {
			msg.Body.SetInt(fix.TagRefTagID, tag)
		}
		if msgType := ref.MsgType(); msgType != "" {
			msg.Body.Set(fix.TagRefMsgType, msgType)
		}
	}
	msg.Body.Set(fix.TagText, rejectText(cause))
	return msg
}

// newBusinessReject 构造业务层拒绝，用于不支持的消息类型。
func (s *Session) newBusinessReject(ref *fix.Message, cause error) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeBusinessReject)
	if seq, err := ref.SeqNum(); err == nil {
		msg.Body.SetInt(fix.TagRefSeqNum, seq)
	}
	msg.Body.Set(fix.TagRefMsgType, ref.MsgType())
	msg.Body.SetInt(fix.TagBusinessRejectReason, businessRejectUnsupportedMsgType)
	msg.Body.Set(fix.TagText, rejectText(cause))
	return msg
}

// atLeastFIX42 判断协议版本是否不低于 FIX.4.2，FIXT.1.1 同样满足。
func (s *Session) atLeastFIX42() bool {
	return fix.AtLeast(s.id.BeginString, fix.BeginStringFIX42)
}

func rejectText(cause error) string {
	if cause == nil {
		return ""
	}
	return errors.Cause(cause).Error()
}
