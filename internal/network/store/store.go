package store

import (
	"time"
)

// StoredMessage 为一条已持久化的出站消息。
type StoredMessage struct {
	SeqNum int
	Raw    []byte
}

// MessageStore 保存单个会话的序列号与出站消息，供重发使用。
//
// 说明：
//   - 一个 MessageStore 只属于一个会话，由该会话的处理协程独占访问；
//   - 实现仍需保证并发安全，以便监控与管理接口读取。
type MessageStore interface {
	// NextSenderMsgSeqNum 返回下一条出站消息的序列号。
	NextSenderMsgSeqNum() int
	// NextTargetMsgSeqNum 返回期望收到的下一条入站消息的序列号。
	NextTargetMsgSeqNum() int

	SetNextSenderMsgSeqNum(next int) error
	SetNextTargetMsgSeqNum(next int) error
	IncrNextSenderMsgSeqNum() error
	IncrNextTargetMsgSeqNum() error

	// CreationTime 返回当前会话周期的创建时间，Reset 后更新。
	CreationTime() time.Time

	// Set 保存序列号为 seq 的出站消息。
	Set(seq int, raw []byte) error
	// Get 按序列号升序返回 [begin, end] 区间内已保存的消息，缺失的序列号不会出现在结果中。
	Get(begin, end int) ([]StoredMessage, error)

	// Reset 将两个序列号重置为 1、清空消息并刷新创建时间。
	Reset() error
	// Refresh 从底层存储重新加载状态，内存实现为空操作。
	Refresh() error
	Close() error
}

// Factory 为会话创建 MessageStore。
type Factory interface {
	Create(sessionKey string) (MessageStore, error)
}

// FactoryFunc 将函数适配为 Factory。
type FactoryFunc func(sessionKey string) (MessageStore, error)

func (f FactoryFunc) Create(sessionKey string) (MessageStore, error) {
	return f(sessionKey)
}
