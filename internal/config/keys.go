package config

// 会话配置项名称，大小写不敏感。
const (
	ConnectionType = "ConnectionType"

	BeginString      = "BeginString"
	SenderCompID     = "SenderCompID"
	SenderSubID      = "SenderSubID"
	SenderLocationID = "SenderLocationID"
	TargetCompID     = "TargetCompID"
	TargetSubID      = "TargetSubID"
	TargetLocationID = "TargetLocationID"
	SessionQualifier = "SessionQualifier"
	DefaultApplVerID = "DefaultApplVerID"

	SocketAcceptHost      = "SocketAcceptHost"
	SocketAcceptPort      = "SocketAcceptPort"
	SocketAcceptProtocol  = "SocketAcceptProtocol"
	SocketConnectHost     = "SocketConnectHost"
	SocketConnectPort     = "SocketConnectPort"
	SocketConnectProtocol = "SocketConnectProtocol"
	SocketBindAttempts    = "SocketBindAttempts"

	SocketUseSSL           = "SocketUseSSL"
	SocketKeyStore         = "SocketKeyStore"
	SocketKeyStorePassword = "SocketKeyStorePassword"
	SocketTrustStore       = "SocketTrustStore"
	EnableProtocol         = "EnableProtocol"
	NeedClientAuth         = "NeedClientAuth"

	HeartBtInt         = "HeartBtInt"
	HeartBeatTolerance = "HeartBeatTolerance"
	TestRequestGrace   = "TestRequestGrace"

	StartTime      = "StartTime"
	EndTime        = "EndTime"
	TimeZone       = "TimeZone"
	NonStopSession = "NonStopSession"

	ReconnectInterval             = "ReconnectInterval"
	ContinueInitializationOnError = "ContinueInitializationOnError"
	AcceptorTemplate              = "AcceptorTemplate"

	ValidateUserDefinedFields = "ValidateUserDefinedFields"
	ValidateFieldsHaveValues  = "ValidateFieldsHaveValues"
	PersistMessages           = "PersistMessages"
	ResetOnLogon              = "ResetOnLogon"
	ResetOnLogout             = "ResetOnLogout"
	ResetOnDisconnect         = "ResetOnDisconnect"

	LogonTimeout         = "LogonTimeout"
	LogoutTimeout        = "LogoutTimeout"
	ResendRequestTimeout = "ResendRequestTimeout"
	MaxResendRetries     = "MaxResendRetries"

	CheckLatency = "CheckLatency"
	MaxLatency   = "MaxLatency"

	DisconnectOnFramingError = "DisconnectOnFramingError"
	InboundQueueSize         = "InboundQueueSize"
	OutboundQueueSize        = "OutboundQueueSize"
)

// ConnectionType 取值。
const (
	ConnectionTypeAcceptor  = "acceptor"
	ConnectionTypeInitiator = "initiator"
)

// 传输协议名称。
const (
	ProtocolSocket = "SOCKET"
	ProtocolVMPipe = "VM_PIPE"
)
