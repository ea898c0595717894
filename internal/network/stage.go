package network

import "go.uber.org/zap"

// Stage 表示连接收发链路中的处理阶段，用于在日志与监控中标记错误发生的位置。
type Stage string

const (
	StageBind      Stage = "bind"
	StageDial      Stage = "dial"
	StageHandshake Stage = "handshake"
	StageRecv      Stage = "recv"     // 读取底层字节
	StageDecode    Stage = "decode"   // 字节 -> FIX 消息
	StageRoute     Stage = "route"    // 首条 Logon -> 会话
	StageDispatch  Stage = "dispatch" // 消息 -> 会话事件队列
	StageSend      Stage = "send"     // 写出到对端
)

func (s Stage) String() string {
	return string(s)
}

// FieldStage 返回阶段日志字段。
func FieldStage(s Stage) zap.Field {
	return zap.String("stage", string(s))
}
