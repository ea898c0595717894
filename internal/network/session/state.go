package session

// State 为会话状态。
//
//	Disconnected --连接建立--> LogonPending --Logon 交换完成--> LoggedOn
//	LoggedOn --发送 Logout--> LogoutPending --收到 Logout 或超时--> Disconnected
//	任意状态 --连接断开--> Disconnected
type State int32

const (
	StateDisconnected State = iota
	StateLogonPending
	StateLoggedOn
	StateLogoutPending
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "Disconnected"
	case StateLogonPending:
		return "LogonPending"
	case StateLoggedOn:
		return "LoggedOn"
	case StateLogoutPending:
		return "LogoutPending"
	}
	return "Unknown"
}

// IsConnected 判断该状态下是否持有传输连接。
func (s State) IsConnected() bool {
	return s != StateDisconnected
}
