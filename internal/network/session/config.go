package session

import (
	"time"

	"github.com/lk2023060901/fixgarden-go/internal/config"
)

// 会话参数默认值。
const (
	DefaultHeartBtInt           = 30 * time.Second
	DefaultHeartBeatTolerance   = 1.2
	DefaultTestRequestGrace     = 1.0
	DefaultLogonTimeout         = 10 * time.Second
	DefaultLogoutTimeout        = 2 * time.Second
	DefaultResendRequestTimeout = 10 * time.Second
	DefaultMaxResendRetries     = 3
	DefaultMaxLatency           = 120 * time.Second
	DefaultInboundQueueSize     = 1024
)

// Config 为单个会话的运行参数。
type Config struct {
	// Initiator 为 true 表示本端主动发起 Logon。
	Initiator bool

	// HeartBtInt 为心跳间隔，0 表示关闭心跳。
	// Acceptor 会采用对端 Logon 中声明的值。
	HeartBtInt time.Duration
	// HeartBeatTolerance 为判定对端静默的倍数，静默超过 HeartBtInt*HeartBeatTolerance 时发送 TestRequest。
	HeartBeatTolerance float64
	// TestRequestGrace 为 TestRequest 发出后等待回应的倍数，超时后断开连接。
	TestRequestGrace float64

	LogonTimeout         time.Duration
	LogoutTimeout        time.Duration
	ResendRequestTimeout time.Duration
	MaxResendRetries     int

	PersistMessages   bool
	ResetOnLogon      bool
	ResetOnLogout     bool
	ResetOnDisconnect bool

	CheckLatency bool
	MaxLatency   time.Duration

	// ValidateFieldsHaveValues 为 true 时拒绝空值字段。
	ValidateFieldsHaveValues bool
	// ValidateUserDefinedFields 为 true 时拒绝管理消息中出现的自定义字段（5000-9999）。
	ValidateUserDefinedFields bool

	// DefaultApplVerID 仅在 FIXT.1.1 的 Logon 中发送。
	DefaultApplVerID string

	InboundQueueSize int

	Schedule *Schedule
}

// DefaultConfig 返回默认参数。
func DefaultConfig() Config {
	return Config{
		HeartBtInt:                DefaultHeartBtInt,
		HeartBeatTolerance:        DefaultHeartBeatTolerance,
		TestRequestGrace:          DefaultTestRequestGrace,
		LogonTimeout:              DefaultLogonTimeout,
		LogoutTimeout:             DefaultLogoutTimeout,
		ResendRequestTimeout:      DefaultResendRequestTimeout,
		MaxResendRetries:          DefaultMaxResendRetries,
		PersistMessages:           true,
		CheckLatency:              true,
		MaxLatency:                DefaultMaxLatency,
		ValidateFieldsHaveValues:  true,
		ValidateUserDefinedFields: true,
		InboundQueueSize:          DefaultInboundQueueSize,
		Schedule:                  NonStopSchedule(),
	}
}

// ConfigFromSettings 从会话配置中读取运行参数，未配置的项使用默认值。
func ConfigFromSettings(d *config.Dictionary) (Config, error) {
	cfg := DefaultConfig()
	cfg.Initiator = d.StringOr(config.ConnectionType, config.ConnectionTypeAcceptor) == config.ConnectionTypeInitiator
	cfg.DefaultApplVerID = d.StringOr(config.DefaultApplVerID, "")

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{config.HeartBtInt, &cfg.HeartBtInt},
		{config.LogonTimeout, &cfg.LogonTimeout},
		{config.LogoutTimeout, &cfg.LogoutTimeout},
		{config.ResendRequestTimeout, &cfg.ResendRequestTimeout},
		{config.MaxLatency, &cfg.MaxLatency},
	}
	for _, item := range durations {
		v, err := d.SecondsOr(item.key, *item.dst)
		if err != nil {
			return Config{}, err
		}
		*item.dst = v
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{config.HeartBeatTolerance, &cfg.HeartBeatTolerance},
		{config.TestRequestGrace, &cfg.TestRequestGrace},
	}
	for _, item := range floats {
		v, err := d.FloatOr(item.key, *item.dst)
		if err != nil {
			return Config{}, err
		}
		*item.dst = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{config.MaxResendRetries, &cfg.MaxResendRetries},
		{config.InboundQueueSize, &cfg.InboundQueueSize},
	}
	for _, item := range ints {
		v, err := d.IntOr(item.key, *item.dst)
		if err != nil {
			return Config{}, err
		}
		*item.dst = v
	}

	bools := []struct {
		key string
		dst *bool
	}{
		{config.PersistMessages, &cfg.PersistMessages},
		{config.ResetOnLogon, &cfg.ResetOnLogon},
		{config.ResetOnLogout, &cfg.ResetOnLogout},
		{config.ResetOnDisconnect, &cfg.ResetOnDisconnect},
		{config.CheckLatency, &cfg.CheckLatency},
		{config.ValidateFieldsHaveValues, &cfg.ValidateFieldsHaveValues},
		{config.ValidateUserDefinedFields, &cfg.ValidateUserDefinedFields},
	}
	for _, item := range bools {
		v, err := d.BoolOr(item.key, *item.dst)
		if err != nil {
			return Config{}, err
		}
		*item.dst = v
	}

	schedule, err := ScheduleFromSettings(d)
	if err != nil {
		return Config{}, err
	}
	cfg.Schedule = schedule
	return cfg, nil
}
