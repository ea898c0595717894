package strategy

import (
	"context"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
)

// Threaded 为每个已连接的会话启动独立的处理协程。
//
// 会话断开后，处理协程处理完队列中剩余的事件再退出；会话在旧协程退出前重新连接时，
// 新协程会等待旧协程结束，保证同一时刻只有一个协程处理该会话。
type Threaded struct {
	log.Binder

	opts    options
	observe observe

	mu      sync.Mutex
	running bool
	workers map[session.SessionID]*worker
}

type worker struct {
	sess     Session
	name     string
	prev     *worker
	draining atomic.Bool
	drainCh  chan struct{}
	once     sync.Once
	finished *conc.Future[struct{}]
}

var _ Strategy = (*Threaded)(nil)

// NewThreaded 创建每会话一个处理协程的策略。
func NewThreaded(opts ...Option) *Threaded {
	o := newOptions(opts)
	t := &Threaded{
		opts:    o,
		observe: observe{mode: ModeThreaded, tracker: o.tracker},
		workers: make(map[session.SessionID]*worker),
	}
	t.SetLogger(log.With(log.FieldComponent("strategy"), zap.String("mode", ModeThreaded)))
	return t
}

func (t *Threaded) Mode() string {
	return ModeThreaded
}

func (t *Threaded) Tracker() Tracker {
	return t.opts.tracker
}

func (t *Threaded) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running = true
	return nil
}

func (t *Threaded) Stop() {
	t.mu.Lock()
	t.running = false
	workers := make([]*worker, 0, len(t.workers))
	for _, w := range t.workers {
		workers = append(workers, w)
	}
	t.mu.Unlock()

	for _, w := range workers {
		w.stopAfterDrain()
	}
	for _, w := range workers {
		_, _ = w.finished.Await()
	}
}

func (t *Threaded) Connected(sess Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.running {
		t.Logger().Warn("strategy not started, ignoring connected session", log.FieldSession(sess.ID()))
		return
	}
	prev := t.workers[sess.ID()]
	if prev != nil && !prev.draining.Load() {
		return
	}
	w := &worker{
		sess:    sess,
		name:    ProcessorName + "-" + sess.ID().String(),
		prev:    prev,
		drainCh: make(chan struct{}),
	}
	t.workers[sess.ID()] = w
	w.finished = conc.Go(func() (struct{}, error) {
		t.run(w)
		return struct{}{}, nil
	})
}

func (t *Threaded) Dispatch(ctx context.Context, sess Session, ev session.Event) error {
	return sess.Enqueue(ctx, ev)
}

func (t *Threaded) Disconnected(sess Session) {
	t.mu.Lock()
	w := t.workers[sess.ID()]
	t.mu.Unlock()
	if w != nil {
		w.stopAfterDrain()
	}
}

func (t *Threaded) run(w *worker) {
	if w.prev != nil {
		_, _ = w.prev.finished.Await()
		w.prev = nil
	}
	t.observe.started(w.name)
	defer func() {
		t.observe.stopped(w.name)
		t.mu.Lock()
		if t.workers[w.sess.ID()] == w {
			delete(t.workers, w.sess.ID())
		}
		t.mu.Unlock()
	}()

	ticker := time.NewTicker(t.opts.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case ev := <-w.sess.Inbound():
			process(w.sess, ev, t.Logger())
		case now := <-ticker.C:
			w.sess.Tick(now)
		case <-w.drainCh:
			drain(w.sess, -1, t.Logger())
			return
		}
	}
}

func (w *worker) stopAfterDrain() {
	w.once.Do(func() {
		w.draining.Store(true)
		close(w.drainCh)
	})
}
