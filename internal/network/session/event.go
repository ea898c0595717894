package session

import (
	"net"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
)

// Responder 为会话所绑定的传输连接。
type Responder interface {
	// Send 写出一条已编码的消息，写队列满时阻塞，连接关闭后返回错误。
	Send(raw []byte) error
	// Disconnect 关闭连接，多次调用是幂等的。
	Disconnect(reason error)
	// RemoteAddr 返回对端地址。
	RemoteAddr() net.Addr
}

// EventKind 为会话事件类型。
type EventKind int

const (
	// EventMessage 表示收到一条完整的 FIX 消息。
	EventMessage EventKind = iota
	// EventConnected 表示连接已经绑定到会话。
	EventConnected
	// EventDisconnected 表示连接已断开。
	EventDisconnected
)

func (k EventKind) String() string {
	switch k {
	case EventMessage:
		return "message"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	}
	return "unknown"
}

// Event 为投递给会话处理协程的事件。
//
// Responder 标识事件来源的连接，与会话当前连接不一致的事件会被丢弃，
// 避免旧连接的断开事件影响重连后的新连接。
type Event struct {
	Kind      EventKind
	Msg       *fix.Message
	Responder Responder
	Err       error
}
