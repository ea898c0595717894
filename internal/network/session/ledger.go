package session

import (
	"time"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/store"
)

// seqVerdict 为入站序号检查结果。
type seqVerdict int

const (
	seqInOrder seqVerdict = iota
	seqGap
	seqTooLow
)

// resendRange 记录一次已发出的 ResendRequest。
type resendRange struct {
	begin    int
	end      int
	attempts int
	sentAt   time.Time
}

// ledger 维护会话的收发序号，并缓存乱序到达的消息。
//
// 序号本身保存在 MessageStore 中，ledger 只在处理协程内使用，不加锁。
type ledger struct {
	store store.MessageStore

	// queue 缓存序号大于期望值的入站消息，value 为 nil 表示该序号已处理过，只需推进。
	queue  map[int]*fix.Message
	resend *resendRange
}

func newLedger(s store.MessageStore) *ledger {
	return &ledger{
		store: s,
		queue: make(map[int]*fix.Message),
	}
}

// expected 返回下一个期望收到的序号。
func (l *ledger) expected() int {
	return l.store.NextTargetMsgSeqNum()
}

// check 比较入站序号与期望值。
func (l *ledger) check(seq int) seqVerdict {
	switch expected := l.expected(); {
	case seq == expected:
		return seqInOrder
	case seq > expected:
		return seqGap
	default:
		return seqTooLow
	}
}

// advance 在处理完期望序号的消息后推进。
func (l *ledger) advance() error {
	return l.store.IncrNextTargetMsgSeqNum()
}

// skipTo 将期望序号直接设置为 next，丢弃更早的缓存。
func (l *ledger) skipTo(next int) error {
	if err := l.store.SetNextTargetMsgSeqNum(next); err != nil {
		return err
	}
	for seq := range l.queue {
		if seq < next {
			delete(l.queue, seq)
		}
	}
	return nil
}

// enqueue 缓存一条乱序消息。
func (l *ledger) enqueue(seq int, msg *fix.Message) {
	if _, ok := l.queue[seq]; ok && msg != nil {
		return
	}
	l.queue[seq] = msg
}

// dequeue 取出期望序号对应的缓存消息。
func (l *ledger) dequeue() (msg *fix.Message, ok bool) {
	seq := l.expected()
	msg, ok = l.queue[seq]
	if ok {
		delete(l.queue, seq)
	}
	return msg, ok
}

// queued 返回缓存的消息数量。
func (l *ledger) queued() int {
	return len(l.queue)
}

// resendInProgress 判断是否有尚未补齐的 ResendRequest。
func (l *ledger) resendInProgress() bool {
	return l.resend != nil
}

// beginResend 记录新发出的 ResendRequest。
func (l *ledger) beginResend(begin, end int, now time.Time) {
	l.resend = &resendRange{begin: begin, end: end, attempts: 1, sentAt: now}
}

// retryResend 记录一次重发，返回重发后的范围。
func (l *ledger) retryResend(now time.Time) (begin, end int) {
	l.resend.begin = l.expected()
	l.resend.attempts++
	l.resend.sentAt = now
	return l.resend.begin, l.resend.end
}

// settleResend 在期望序号越过补发范围后清除补发状态，返回是否清除。
func (l *ledger) settleResend() bool {
	if l.resend != nil && l.expected() > l.resend.end {
		l.resend = nil
		return true
	}
	return false
}

// clear 清空缓存与补发状态，不修改序号。
func (l *ledger) clear() {
	l.queue = make(map[int]*fix.Message)
	l.resend = nil
}
