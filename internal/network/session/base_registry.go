package session

import (
	"sync"

	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// BaseRegistry 是 Registry 的并发安全实现。
//
// 内部使用 map[SessionID]*Session 与读写锁：
//   - 读多写少场景下，Get/Range/Count 使用读锁；
//   - Register/Unregister 使用写锁。
type BaseRegistry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
}

var _ Registry = (*BaseRegistry)(nil)

// NewRegistry 创建一个空的 BaseRegistry。
func NewRegistry() *BaseRegistry {
	return &BaseRegistry{
		sessions: make(map[SessionID]*Session),
	}
}

// Register 实现 Registry.Register。
func (r *BaseRegistry) Register(sess *Session) error {
	if sess == nil {
		return merr.WrapErrConfigInvalid("session", "nil")
	}
	id := sess.ID()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[id]; exists {
		return merr.WrapErrConfigDuplicateSession(id.String())
	}
	r.sessions[id] = sess
	return nil
}

// Get 实现 Registry.Get。
func (r *BaseRegistry) Get(id SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	return sess, ok
}

// Unregister 实现 Registry.Unregister。
func (r *BaseRegistry) Unregister(id SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return merr.WrapErrSessionNotFound(id.String())
	}
	delete(r.sessions, id)
	return nil
}

// Range 实现 Registry.Range。
//
// 遍历前先拷贝快照，回调中可以安全地调用 Register/Unregister。
func (r *BaseRegistry) Range(fn func(sess *Session) bool) {
	r.mu.RLock()
	snapshot := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		snapshot = append(snapshot, s)
	}
	r.mu.RUnlock()

	for _, s := range snapshot {
		if !fn(s) {
			return
		}
	}
}

// Count 实现 Registry.Count。
func (r *BaseRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
