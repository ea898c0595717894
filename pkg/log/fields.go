package log

import (
	"fmt"

	"go.uber.org/zap"
)

const (
	FieldNameModule    = "module"
	FieldNameComponent = "component"
	FieldNameSession   = "session"
	FieldNameMsgType   = "msgType"
	FieldNameSeqNum    = "seqNum"
	FieldNameRemote    = "remote"
	FieldNameAddress   = "address"
)

// FieldModule 返回一个包含模块名的 zap 字段。
func FieldModule(module string) zap.Field {
	return zap.String(FieldNameModule, module)
}

// FieldComponent 返回一个包含组件名的 zap 字段。
func FieldComponent(component string) zap.Field {
	return zap.String(FieldNameComponent, component)
}

// FieldSession 返回会话标识字段。
func FieldSession(sessionID fmt.Stringer) zap.Field {
	return zap.Stringer(FieldNameSession, sessionID)
}

func FieldMsgType(msgType string) zap.Field {
	return zap.String(FieldNameMsgType, msgType)
}

func FieldSeqNum(seq int) zap.Field {
	return zap.Int(FieldNameSeqNum, seq)
}

func FieldRemote(addr fmt.Stringer) zap.Field {
	if addr == nil {
		return zap.Skip()
	}
	return zap.Stringer(FieldNameRemote, addr)
}

func FieldAddress(addr string) zap.Field {
	return zap.String(FieldNameAddress, addr)
}
