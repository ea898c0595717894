package strategy

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

type fakeSession struct {
	id      session.SessionID
	inbound chan session.Event

	mu        sync.Mutex
	seqs      []int
	active    atomic.Int32
	overlaps  atomic.Int32
	ticks     atomic.Int32
	processed atomic.Int32
}

func newFakeSession(i int) *fakeSession {
	return &fakeSession{
		id:      session.SessionID{BeginString: fix.BeginStringFIX42, SenderCompID: "ACC", TargetCompID: fmt.Sprintf("C%03d", i)},
		inbound: make(chan session.Event, 1024),
	}
}

func (f *fakeSession) ID() session.SessionID { return f.id }
func (f *fakeSession) Inbound() <-chan session.Event { return f.inbound }
func (f *fakeSession) Tick(time.Time) { f.ticks.Inc() }
func (f *fakeSession) Enqueue(ctx context.Context, ev session.Event) error {
	select {
	case f.inbound <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeSession) Process(ev session.Event) error {
	if f.active.Inc() > 1 {
		f.overlaps.Inc()
	}
	defer f.active.Dec()
	if ev.Msg != nil {
		seq, _ := ev.Msg.SeqNum()
		f.mu.Lock()
		f.seqs = append(f.seqs, seq)
		f.mu.Unlock()
	}
	f.processed.Inc()
	return nil
}

func (f *fakeSession) received() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.seqs...)
}

func event(seq int) session.Event {
	msg := fix.NewMessage(fix.MsgTypeNewOrderSingle)
	msg.Header.SetInt(fix.TagMsgSeqNum, seq)
	return session.Event{Kind: session.EventMessage, Msg: msg}
}

func expectedSeqs(from, to int) []int {
	out := make([]int, 0, to-from+1)
	for i := from; i <= to; i++ {
		out = append(out, i)
	}
	return out
}

type StrategySuite struct {
	suite.Suite
	tracker *CountingTracker
	ctx     context.Context
}

func (s *StrategySuite) SetupTest() {
	s.tracker = NewCountingTracker()
	s.ctx = context.Background()
}

func (s *StrategySuite) sessions(n int) []*fakeSession {
	out := make([]*fakeSession, n)
	for i := range out {
		out[i] = newFakeSession(i)
	}
	return out
}

func (s *StrategySuite) dispatchAll(st Strategy, sessions []*fakeSession, from, to int) {
	for _, sess := range sessions {
		for seq := from; seq <= to; seq++ {
			s.Require().NoError(st.Dispatch(s.ctx, sess, event(seq)))
		}
	}
}

func (s *StrategySuite) awaitProcessed(sessions []*fakeSession, n int) {
	s.Eventually(func() bool {
		for _, sess := range sessions {
			if int(sess.processed.Load()) < n {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)
}

func (s *StrategySuite) TestSingleThreadedUsesOneProcessor() {
	for _, n := range []int{1, 10, 100} {
		tracker := NewCountingTracker()
		st := NewSingleThreaded(WithTracker(tracker), WithBatchSize(4))
		s.Require().NoError(st.Start())
		s.Require().NoError(st.Start())

		sessions := s.sessions(n)
		for _, sess := range sessions {
			st.Connected(sess)
		}
		s.dispatchAll(st, sessions, 1, 20)
		s.awaitProcessed(sessions, 20)

		s.Equal(1, tracker.Live(), "sessions=%d", n)
		s.Equal([]string{ProcessorName}, tracker.Names())
		for _, sess := range sessions {
			s.Equal(expectedSeqs(1, 20), sess.received())
		}

		st.Stop()
		st.Stop()
		s.Equal(0, tracker.Live())
	}
}

func (s *StrategySuite) TestSingleThreadedDrainsDisconnectedSession() {
	st := NewSingleThreaded(WithTracker(s.tracker))
	s.Require().NoError(st.Start())
	defer st.Stop()

	sessions := s.sessions(1)
	st.Connected(sessions[0])
	s.dispatchAll(st, sessions, 1, 50)
	st.Disconnected(sessions[0])
	s.awaitProcessed(sessions, 50)
	s.Equal(expectedSeqs(1, 50), sessions[0].received())

	s.Eventually(func() bool {
		return len(st.snapshot()) == 0
	}, time.Second, 5*time.Millisecond)
}

func (s *StrategySuite) TestSingleThreadedTicks() {
	st := NewSingleThreaded(WithTracker(s.tracker), WithTickInterval(5*time.Millisecond))
	s.Require().NoError(st.Start())
	defer st.Stop()

	sessions := s.sessions(3)
	for _, sess := range sessions {
		st.Connected(sess)
	}
	s.Eventually(func() bool {
		for _, sess := range sessions {
			if sess.ticks.Load() < 2 {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)
}

func (s *StrategySuite) TestThreadedProcessorPerSession() {
	st := NewThreaded(WithTracker(s.tracker))
	s.Require().NoError(st.Start())

	sessions := s.sessions(10)
	for _, sess := range sessions {
		st.Connected(sess)
		st.Connected(sess)
	}
	s.Eventually(func() bool { return s.tracker.Live() == 10 }, 2*time.Second, 5*time.Millisecond)
	s.Contains(s.tracker.Names(), ProcessorName+"-"+sessions[0].ID().String())

	s.dispatchAll(st, sessions, 1, 30)
	s.awaitProcessed(sessions, 30)
	for _, sess := range sessions {
		s.Equal(expectedSeqs(1, 30), sess.received())
	}

	for _, sess := range sessions[:4] {
		st.Disconnected(sess)
	}
	s.Eventually(func() bool { return s.tracker.Live() == 6 }, 2*time.Second, 5*time.Millisecond)

	st.Stop()
	s.Equal(0, s.tracker.Live())
}

func (s *StrategySuite) TestThreadedReconnectKeepsSingleProcessor() {
	st := NewThreaded(WithTracker(s.tracker))
	s.Require().NoError(st.Start())
	defer st.Stop()

	sess := newFakeSession(1)
	for round := 0; round < 5; round++ {
		st.Connected(sess)
		from := round*100 + 1
		s.dispatchAll(st, []*fakeSession{sess}, from, from+99)
		st.Disconnected(sess)
	}
	st.Connected(sess)

	s.awaitProcessed([]*fakeSession{sess}, 500)
	s.Equal(expectedSeqs(1, 500), sess.received())
	s.Zero(sess.overlaps.Load())
	s.Eventually(func() bool { return s.tracker.Live() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func (s *StrategySuite) TestThreadedIgnoresSessionsBeforeStart() {
	st := NewThreaded(WithTracker(s.tracker))
	st.Connected(newFakeSession(1))
	s.Equal(0, s.tracker.Live())
}

func (s *StrategySuite) TestNew() {
	st, err := New(ModeThreaded)
	s.NoError(err)
	s.Equal(ModeThreaded, st.Mode())

	st, err = New("")
	s.NoError(err)
	s.Equal(ModeSingleThreaded, st.Mode())

	_, err = New("fiber")
	s.ErrorIs(err, merr.ErrConfigInvalid)
}

func TestStrategy(t *testing.T) {
	suite.Run(t, new(StrategySuite))
}
