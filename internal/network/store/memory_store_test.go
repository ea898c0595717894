package store

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

type MemoryStoreSuite struct {
	suite.Suite
	store MessageStore
}

func (s *MemoryStoreSuite) SetupTest() {
	st, err := NewMemoryStoreFactory().Create("FIX.4.2:A->B")
	s.Require().NoError(err)
	s.store = st
}

func (s *MemoryStoreSuite) TestInitialSeqNums() {
	s.Equal(1, s.store.NextSenderMsgSeqNum())
	s.Equal(1, s.store.NextTargetMsgSeqNum())
}

func (s *MemoryStoreSuite) TestIncrAndSet() {
	s.NoError(s.store.IncrNextSenderMsgSeqNum())
	s.NoError(s.store.IncrNextTargetMsgSeqNum())
	s.NoError(s.store.IncrNextTargetMsgSeqNum())
	s.Equal(2, s.store.NextSenderMsgSeqNum())
	s.Equal(3, s.store.NextTargetMsgSeqNum())

	s.NoError(s.store.SetNextSenderMsgSeqNum(10))
	s.Equal(10, s.store.NextSenderMsgSeqNum())
	s.ErrorIs(s.store.SetNextTargetMsgSeqNum(0), merr.ErrConfigInvalid)
}

func (s *MemoryStoreSuite) TestGetRange() {
	for _, seq := range []int{1, 2, 4, 5} {
		s.NoError(s.store.Set(seq, []byte{byte(seq)}))
	}

	msgs, err := s.store.Get(2, 4)
	s.NoError(err)
	s.Require().Len(msgs, 2)
	s.Equal(2, msgs[0].SeqNum)
	s.Equal(4, msgs[1].SeqNum)

	msgs, err = s.store.Get(1, math.MaxInt32)
	s.NoError(err)
	s.Require().Len(msgs, 4)
	s.Equal([]int{1, 2, 4, 5}, []int{msgs[0].SeqNum, msgs[1].SeqNum, msgs[2].SeqNum, msgs[3].SeqNum})
}

func (s *MemoryStoreSuite) TestSetCopiesInput() {
	raw := []byte("abc")
	s.NoError(s.store.Set(1, raw))
	raw[0] = 'z'
	msgs, err := s.store.Get(1, 1)
	s.NoError(err)
	s.Equal("abc", string(msgs[0].Raw))
}

func (s *MemoryStoreSuite) TestReset() {
	before := s.store.CreationTime()
	time.Sleep(time.Millisecond)
	s.NoError(s.store.SetNextSenderMsgSeqNum(5))
	s.NoError(s.store.Set(4, []byte("x")))
	s.NoError(s.store.Reset())

	s.Equal(1, s.store.NextSenderMsgSeqNum())
	s.Equal(1, s.store.NextTargetMsgSeqNum())
	s.True(s.store.CreationTime().After(before))
	msgs, err := s.store.Get(1, 10)
	s.NoError(err)
	s.Empty(msgs)
	s.NoError(s.store.Refresh())
	s.NoError(s.store.Close())
}

func TestMemoryStore(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}
