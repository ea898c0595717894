package session

// Registry 维护 SessionID 到 Session 的索引。
//
// 职责说明：
//   - 只负责会话的注册、查询和移除，不创建或关闭底层连接；
//   - Session 的生命周期由 Connector 决定，Connector 停止时应移除自己注册的会话；
//   - Registry 以依赖注入方式传递，同一进程可以存在多个互不干扰的 Registry。
type Registry interface {
	// Register 注册会话，SessionID 已存在时返回 ErrConfigDuplicateSession。
	Register(sess *Session) error

	// Get 根据 SessionID 查找会话。
	Get(id SessionID) (sess *Session, ok bool)

	// Unregister 移除会话，不存在时返回 ErrSessionNotFound。
	//
	// 仅删除索引，不负责断开连接。
	Unregister(id SessionID) error

	// Range 遍历当前已注册的会话，fn 返回 false 时中断遍历。
	Range(fn func(sess *Session) bool)

	// Count 返回当前已注册的会话数量。
	Count() int
}
