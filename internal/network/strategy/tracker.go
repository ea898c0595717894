package strategy

import (
	"sort"
	"sync"

	"github.com/samber/lo"

	"github.com/lk2023060901/fixgarden-go/pkg/metrics"
)

// Tracker 记录处理协程的启停，便于测试与监控统计存活的处理协程。
type Tracker interface {
	Started(name string)
	Stopped(name string)
}

// CountingTracker 为按名称计数的 Tracker。
type CountingTracker struct {
	mu   sync.Mutex
	live map[string]int
}

var _ Tracker = (*CountingTracker)(nil)

// NewCountingTracker 创建一个空的 CountingTracker。
func NewCountingTracker() *CountingTracker {
	return &CountingTracker{live: make(map[string]int)}
}

func (t *CountingTracker) Started(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.live[name]++
}

func (t *CountingTracker) Stopped(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.live[name] <= 1 {
		delete(t.live, name)
		return
	}
	t.live[name]--
}

// Live 返回存活的处理协程数量。
func (t *CountingTracker) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return lo.Sum(lo.Values(t.live))
}

// Names 返回存活处理协程的名称，按字典序排列。
func (t *CountingTracker) Names() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	names := lo.Keys(t.live)
	sort.Strings(names)
	return names
}

// observe 同时更新注入的 Tracker 与监控指标。
type observe struct {
	mode    string
	tracker Tracker
}

func (o observe) started(name string) {
	metrics.LiveProcessors.WithLabelValues(o.mode).Inc()
	o.tracker.Started(name)
}

func (o observe) stopped(name string) {
	metrics.LiveProcessors.WithLabelValues(o.mode).Dec()
	o.tracker.Stopped(name)
}
