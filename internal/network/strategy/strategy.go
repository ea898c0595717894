package strategy

import (
	"context"
	"time"

	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// ProcessorName 为处理协程的名称，Threaded 模式下追加 "-<SessionID>"。
const ProcessorName = "FIX Message Processor"

// 事件处理模式。
const (
	ModeSingleThreaded = "single"
	ModeThreaded       = "threaded"
)

const (
	defaultBatchSize    = 64
	defaultTickInterval = time.Second
)

// Session 为 strategy 驱动的会话，*session.Session 满足该接口。
type Session interface {
	ID() session.SessionID
	Inbound() <-chan session.Event
	Enqueue(ctx context.Context, ev session.Event) error
	Process(ev session.Event) error
	Tick(now time.Time)
}

var _ Session = (*session.Session)(nil)

// Strategy 决定会话事件由哪个处理协程串行执行。
//
// 约定：
//   - 同一时刻最多只有一个处理协程在处理某个会话；
//   - 同一会话的事件按投递顺序处理；
//   - Connected 必须先于该连接的 Dispatch 调用，Disconnected 在最后一个事件投递之后调用。
type Strategy interface {
	// Mode 返回处理模式。
	Mode() string
	// Start 启动处理协程，重复调用是幂等的。
	Start() error
	// Stop 处理完已投递的事件后停止所有处理协程，重复调用是幂等的。
	Stop()
	// Connected 在会话绑定连接后调用。
	Connected(sess Session)
	// Dispatch 投递事件，会话队列满时阻塞直到 ctx 结束。
	Dispatch(ctx context.Context, sess Session, ev session.Event) error
	// Disconnected 在会话连接断开、最后一个事件投递后调用。
	Disconnected(sess Session)
	// Tracker 返回处理协程计数器。
	Tracker() Tracker
}

type options struct {
	batchSize    int
	tickInterval time.Duration
	tracker      Tracker
}

// Option 为 Strategy 的可选参数。
type Option func(o *options)

// WithBatchSize 设置 SingleThreaded 每轮为单个会话处理的最大事件数。
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithTickInterval 设置定时检查（心跳、超时）的间隔。
func WithTickInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.tickInterval = d
		}
	}
}

// WithTracker 注入处理协程计数器。
func WithTracker(t Tracker) Option {
	return func(o *options) {
		if t != nil {
			o.tracker = t
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		batchSize:    defaultBatchSize,
		tickInterval: defaultTickInterval,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tracker == nil {
		o.tracker = NewCountingTracker()
	}
	return o
}

// New 按模式创建 Strategy。
func New(mode string, opts ...Option) (Strategy, error) {
	switch mode {
	case ModeSingleThreaded, "":
		return NewSingleThreaded(opts...), nil
	case ModeThreaded:
		return NewThreaded(opts...), nil
	}
	return nil, merr.WrapErrConfigInvalid("strategy", mode)
}
