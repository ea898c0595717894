package store

import (
	"sort"
	"sync"
	"time"

	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// MemoryStore 为基于内存的 MessageStore 实现，进程退出后数据丢失。
type MemoryStore struct {
	mu           sync.RWMutex
	senderSeqNum int
	targetSeqNum int
	creationTime time.Time
	messages     map[int][]byte
}

var _ MessageStore = (*MemoryStore)(nil)

// NewMemoryStore 创建一个序列号均为 1 的内存存储。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		senderSeqNum: 1,
		targetSeqNum: 1,
		creationTime: time.Now().UTC(),
		messages:     make(map[int][]byte),
	}
}

// NewMemoryStoreFactory 返回创建 MemoryStore 的工厂。
func NewMemoryStoreFactory() Factory {
	return FactoryFunc(func(string) (MessageStore, error) {
		return NewMemoryStore(), nil
	})
}

func (s *MemoryStore) NextSenderMsgSeqNum() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.senderSeqNum
}

func (s *MemoryStore) NextTargetMsgSeqNum() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.targetSeqNum
}

func (s *MemoryStore) SetNextSenderMsgSeqNum(next int) error {
	if next < 1 {
		return merr.WrapErrConfigInvalid("NextSenderMsgSeqNum", next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderSeqNum = next
	return nil
}

func (s *MemoryStore) SetNextTargetMsgSeqNum(next int) error {
	if next < 1 {
		return merr.WrapErrConfigInvalid("NextTargetMsgSeqNum", next)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetSeqNum = next
	return nil
}

func (s *MemoryStore) IncrNextSenderMsgSeqNum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderSeqNum++
	return nil
}

func (s *MemoryStore) IncrNextTargetMsgSeqNum() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.targetSeqNum++
	return nil
}

func (s *MemoryStore) CreationTime() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.creationTime
}

func (s *MemoryStore) Set(seq int, raw []byte) error {
	buf := make([]byte, len(raw))
	copy(buf, raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages[seq] = buf
	return nil
}

func (s *MemoryStore) Get(begin, end int) ([]StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]StoredMessage, 0)
	if end < begin {
		return out, nil
	}
	if end-begin < len(s.messages) {
		for seq := begin; seq <= end; seq++ {
			if raw, ok := s.messages[seq]; ok {
				out = append(out, StoredMessage{SeqNum: seq, Raw: raw})
			}
		}
		return out, nil
	}
	// 区间远大于已保存的消息数（如 EndSeqNo=0 表示无穷大）时遍历 map。
	for seq, raw := range s.messages {
		if seq >= begin && seq <= end {
			out = append(out, StoredMessage{SeqNum: seq, Raw: raw})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SeqNum < out[j].SeqNum })
	return out, nil
}

func (s *MemoryStore) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.senderSeqNum = 1
	s.targetSeqNum = 1
	s.creationTime = time.Now().UTC()
	s.messages = make(map[int][]byte)
	return nil
}

func (s *MemoryStore) Refresh() error {
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
