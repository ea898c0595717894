package session

import "github.com/lk2023060901/fixgarden-go/internal/fix"

// Application 为业务层回调接口，所有回调都在会话的处理协程中调用。
//
//   - ToApp 返回 ErrDoNotSend 时消息不会发出；
//   - FromAdmin 对 Logon 返回 ErrRejectLogon 时拒绝登录并断开连接；
//   - FromApp 返回带拒绝原因的错误（如 ErrFieldNotFound）时回复会话层 Reject。
type Application interface {
	OnCreate(id SessionID)
	OnLogon(id SessionID)
	OnLogout(id SessionID)
	ToAdmin(msg *fix.Message, id SessionID)
	ToApp(msg *fix.Message, id SessionID) error
	FromAdmin(msg *fix.Message, id SessionID) error
	FromApp(msg *fix.Message, id SessionID) error
}

// ApplicationAdapter 为 Application 的空实现，便于按需覆写。
type ApplicationAdapter struct{}

var _ Application = ApplicationAdapter{}

func (ApplicationAdapter) OnCreate(SessionID) {}
func (ApplicationAdapter) OnLogon(SessionID) {}
func (ApplicationAdapter) OnLogout(SessionID) {}
func (ApplicationAdapter) ToAdmin(*fix.Message, SessionID) {}
func (ApplicationAdapter) ToApp(*fix.Message, SessionID) error { return nil }
func (ApplicationAdapter) FromAdmin(*fix.Message, SessionID) error { return nil }
func (ApplicationAdapter) FromApp(*fix.Message, SessionID) error { return nil }
