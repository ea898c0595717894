package strategy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
)

// SingleThreaded 由唯一的处理协程轮询所有已连接的会话。
//
// 每一轮为每个会话最多处理 batchSize 个事件，避免单个繁忙会话饿死其他会话；
// 所有会话的定时检查也在该协程中执行。
type SingleThreaded struct {
	log.Binder

	opts    options
	observe observe

	mu       sync.Mutex
	entries  []*entry
	running  bool
	wake     chan struct{}
	stop     chan struct{}
	finished *conc.Future[struct{}]
}

type entry struct {
	sess     Session
	draining bool
}

var _ Strategy = (*SingleThreaded)(nil)

// NewSingleThreaded 创建单协程处理策略。
func NewSingleThreaded(opts ...Option) *SingleThreaded {
	o := newOptions(opts)
	s := &SingleThreaded{
		opts:    o,
		observe: observe{mode: ModeSingleThreaded, tracker: o.tracker},
		wake:    make(chan struct{}, 1),
	}
	s.SetLogger(log.With(log.FieldComponent("strategy"), zap.String("mode", ModeSingleThreaded)))
	return s
}

func (s *SingleThreaded) Mode() string {
	return ModeSingleThreaded
}

func (s *SingleThreaded) Tracker() Tracker {
	return s.opts.tracker
}

func (s *SingleThreaded) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.running = true
	stop := make(chan struct{})
	s.stop = stop
	s.observe.started(ProcessorName)
	s.finished = conc.Go(func() (struct{}, error) {
		defer s.observe.stopped(ProcessorName)
		s.run(stop)
		return struct{}{}, nil
	})
	return nil
}

func (s *SingleThreaded) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	finished := s.finished
	s.mu.Unlock()

	_, _ = finished.Await()

	s.mu.Lock()
	s.entries = nil
	s.mu.Unlock()
}

func (s *SingleThreaded) Connected(sess Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.sess == sess {
			e.draining = false
			return
		}
	}
	s.entries = append(s.entries, &entry{sess: sess})
}

func (s *SingleThreaded) Dispatch(ctx context.Context, sess Session, ev session.Event) error {
	if err := sess.Enqueue(ctx, ev); err != nil {
		return err
	}
	s.notify()
	return nil
}

func (s *SingleThreaded) Disconnected(sess Session) {
	s.mu.Lock()
	for _, e := range s.entries {
		if e.sess == sess {
			e.draining = true
		}
	}
	s.mu.Unlock()
	s.notify()
}

func (s *SingleThreaded) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *SingleThreaded) run(stop <-chan struct{}) {
	ticker := time.NewTicker(s.opts.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			s.pass(-1)
			return
		case now := <-ticker.C:
			s.tick(now)
		default:
		}
		if s.pass(s.opts.batchSize) {
			continue
		}
		select {
		case <-stop:
			s.pass(-1)
			return
		case now := <-ticker.C:
			s.tick(now)
		case <-s.wake:
		}
	}
}

// pass 轮询一遍所有会话，limit 小于 0 表示处理完队列中的全部事件。返回是否处理了事件。
func (s *SingleThreaded) pass(limit int) bool {
	busy := false
	for _, e := range s.snapshot() {
		n := drain(e.sess, limit, s.Logger())
		if n > 0 {
			busy = true
		}
		if limit < 0 || n < limit {
			s.release(e)
		}
	}
	return busy
}

func (s *SingleThreaded) tick(now time.Time) {
	for _, e := range s.snapshot() {
		e.sess.Tick(now)
	}
}

func (s *SingleThreaded) snapshot() []*entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*entry(nil), s.entries...)
}

// release 移除已断开且队列为空的会话。
func (s *SingleThreaded) release(e *entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !e.draining || len(e.sess.Inbound()) > 0 {
		return
	}
	for i, cur := range s.entries {
		if cur == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return
		}
	}
}

// drain 非阻塞地处理会话队列中的事件，limit 小于 0 表示不限数量。返回处理的事件数。
func drain(sess Session, limit int, logger *log.MLogger) int {
	n := 0
	for limit < 0 || n < limit {
		select {
		case ev := <-sess.Inbound():
			process(sess, ev, logger)
			n++
		default:
			return n
		}
	}
	return n
}

func process(sess Session, ev session.Event, logger *log.MLogger) {
	if err := sess.Process(ev); err != nil {
		logger.Debug("session event failed",
			log.FieldSession(sess.ID()),
			zap.Stringer("event", ev.Kind),
			zap.Error(err))
	}
}
