package router

import (
	"sync"

	"github.com/cockroachdb/errors"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// AnyBeginString 表示路由匹配任意 BeginString。
const AnyBeginString = ""

// Handler 是框架暴露给业务层的消息处理函数。
//
// 返回带拒绝原因的错误（如 merr.ErrFieldNotFound）时，会话回复会话层 Reject；
// 返回 merr.ErrUnsupportedMessageType 时回复 BusinessMessageReject。
type Handler func(msg *fix.Message, id session.SessionID) error

// routeKey 为路由表的键：BeginString + MsgType。
type routeKey struct {
	beginString string
	msgType     string
}

// Router 按 BeginString 与 MsgType 将业务消息分发给 Handler。
//
// 典型用法是在 Application.FromApp 中调用 Route：
//
//	func (a *app) FromApp(msg *fix.Message, id session.SessionID) error {
//		return a.router.Route(msg, id)
//	}
//
// 未注册的消息类型返回 merr.ErrUnsupportedMessageType。
type Router struct {
	mu     sync.RWMutex
	routes map[routeKey]Handler
}

// New 创建一个空的 Router。
func New() *Router {
	return &Router{
		routes: make(map[routeKey]Handler),
	}
}

// Register 为 beginString 下的 msgType 注册 Handler，beginString 为 AnyBeginString 时匹配所有版本。
// 同一组合不允许重复注册。
func (r *Router) Register(beginString, msgType string, h Handler) error {
	if msgType == "" {
		return errors.New("router: msgType must not be empty")
	}
	if fix.IsAdminMsgType(msgType) {
		return errors.Newf("router: msgType=%s is handled by the session layer", msgType)
	}
	if h == nil {
		return errors.Newf("router: handler is nil for msgType=%s", msgType)
	}

	key := routeKey{beginString: beginString, msgType: msgType}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.routes[key]; exists {
		return errors.Newf("router: msgType=%s already registered for %q", msgType, beginString)
	}
	r.routes[key] = h
	return nil
}

// MustRegister 与 Register 相同，注册失败时 panic。
func (r *Router) MustRegister(beginString, msgType string, h Handler) {
	if err := r.Register(beginString, msgType, h); err != nil {
		panic(err)
	}
}

// Route 将消息分发给匹配的 Handler，精确匹配 BeginString 的路由优先。
func (r *Router) Route(msg *fix.Message, id session.SessionID) error {
	if msg == nil {
		return errors.New("router: message is nil")
	}
	msgType := msg.MsgType()
	beginString, _ := msg.Header.Get(fix.TagBeginString)

	r.mu.RLock()
	h, ok := r.routes[routeKey{beginString: beginString, msgType: msgType}]
	if !ok {
		h, ok = r.routes[routeKey{beginString: AnyBeginString, msgType: msgType}]
	}
	r.mu.RUnlock()

	if !ok {
		return merr.WrapErrUnsupportedMessageType(msgType)
	}
	return h(msg, id)
}

// Len 返回已注册的路由数量。
func (r *Router) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.routes)
}
