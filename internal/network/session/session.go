package session

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/codec"
	"github.com/lk2023060901/fixgarden-go/internal/network/store"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/metrics"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

// Session 为一个 FIX 会话：维护状态机、收发序号与心跳，并驱动 Application 回调。
//
// 并发约定：
//   - Process 与 Tick 只能由同一个处理协程串行调用（由 strategy 保证）；
//   - Send、Logout、Disconnect、Attach 可以在任意协程调用；
//   - 出站序号分配、持久化与写出在 mu 保护下完成，保证出站序号严格递增。
type Session struct {
	log.Binder

	id     SessionID
	cfg    Config
	app    Application
	store  store.MessageStore
	codec  codec.Codec
	ledger *ledger
	now    func() time.Time

	inbound chan Event

	state   atomic.Int32
	enabled atomic.Bool

	// mu 保护 responder 以及出站序号的分配与写出。
	mu        sync.Mutex
	responder Responder

	lastSent     atomic.Time
	logoutSentAt atomic.Time

	// 以下字段只在处理协程中访问。
	heartBtInt        time.Duration
	loggedOn          bool
	sentResetSeqNum   bool
	connectedAt       time.Time
	lastReceived      time.Time
	testRequestSentAt time.Time
	testRequestID     string
}

// Option 为 Session 的可选参数。
type Option func(s *Session)

// WithClock 替换时钟，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		s.now = now
	}
}

// WithCodec 替换编解码器。
func WithCodec(c codec.Codec) Option {
	return func(s *Session) {
		s.codec = c
	}
}

// New 创建会话并回调 Application.OnCreate。
func New(id SessionID, cfg Config, app Application, st store.MessageStore, opts ...Option) *Session {
	if app == nil {
		app = ApplicationAdapter{}
	}
	if cfg.InboundQueueSize <= 0 {
		cfg.InboundQueueSize = DefaultInboundQueueSize
	}
	if cfg.Schedule == nil {
		cfg.Schedule = NonStopSchedule()
	}
	s := &Session{
		id:         id,
		cfg:        cfg,
		app:        app,
		store:      st,
		codec:      codec.Default(),
		ledger:     newLedger(st),
		now:        time.Now,
		inbound:    make(chan Event, cfg.InboundQueueSize),
		heartBtInt: cfg.HeartBtInt,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.enabled.Store(true)
	s.SetLogger(log.With(log.FieldSession(id)))
	metrics.SessionState.WithLabelValues(id.String()).Set(float64(StateDisconnected))
	app.OnCreate(id)
	return s
}

// ID 返回会话标识。
func (s *Session) ID() SessionID {
	return s.id
}

// Config 返回会话参数。
func (s *Session) Config() Config {
	return s.cfg
}

// Store 返回会话的消息存储。
func (s *Session) Store() store.MessageStore {
	return s.store
}

// State 返回当前状态。
func (s *Session) State() State {
	return State(s.state.Load())
}

// IsLoggedOn 判断是否已完成 Logon 交换。
func (s *Session) IsLoggedOn() bool {
	return s.State() == StateLoggedOn
}

// IsConnected 判断是否绑定了传输连接。
func (s *Session) IsConnected() bool {
	return s.State().IsConnected()
}

// IsInitiator 判断本端是否为发起方。
func (s *Session) IsInitiator() bool {
	return s.cfg.Initiator
}

// Inbound 返回入站事件队列，由 strategy 消费。
func (s *Session) Inbound() <-chan Event {
	return s.inbound
}

// Enqueue 将事件放入入站队列，队列满时阻塞直到 ctx 结束。
func (s *Session) Enqueue(ctx context.Context, ev Event) error {
	select {
	case s.inbound <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Attach 将传输连接绑定到会话，会话已有连接时返回 ErrProtocolSessionBusy。
//
// 绑定后需要投递 EventConnected，由处理协程完成后续的 Logon 流程。
func (s *Session) Attach(r Responder) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.responder != nil {
		return merr.WrapErrProtocolSessionBusy(s.id.String())
	}
	s.responder = r
	s.setState(StateLogonPending)
	return nil
}

// Send 发送一条消息，自动填充消息头中的会话字段、MsgSeqNum 与 SendingTime。
//
//   - 未登录且 PersistMessages=N 时返回 ErrSessionNotLoggedOn；
//   - 未登录且 PersistMessages=Y 时只持久化并推进序号，待对端 ResendRequest 时补发；
//   - Application.ToApp 返回 ErrDoNotSend 时不发送并返回该错误。
//
// ToApp/ToAdmin 回调在持有发送锁时调用，回调内不能再调用 Send。
func (s *Session) Send(msg *fix.Message) error {
	if msg == nil {
		return merr.WrapErrConfigInvalid("message", "nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sendLocked(msg)
}

// IsEnabled 判断会话是否允许登录，Logout 后需要调用 Logon 重新启用。
func (s *Session) IsEnabled() bool {
	return s.enabled.Load()
}

// Logon 重新启用会话。Initiator 会在下一次连接时发送 Logon，Acceptor 恢复接受对端登录。
func (s *Session) Logon() {
	if !s.enabled.Swap(true) {
		s.Logger().Info("session enabled for logon")
	}
}

// Logout 停用会话并发起正常登出：发送 Logout 并等待对端回应。
// 尚未完成登录时直接断开连接。
func (s *Session) Logout(reason string) error {
	s.enabled.Store(false)
	return s.initiateLogout(reason)
}

func (s *Session) initiateLogout(reason string) error {
	if !s.state.CompareAndSwap(int32(StateLoggedOn), int32(StateLogoutPending)) {
		if s.State() == StateLogonPending {
			s.Disconnect(errors.Newf("logout before logon completed: %s", reason))
		}
		return nil
	}
	s.observeState(StateLogoutPending)
	s.logoutSentAt.Store(s.now())
	s.Logger().Info("initiating logout", zap.String("reason", reason))
	return s.Send(s.newLogout(reason))
}

// Disconnect 关闭当前连接，会话状态在处理协程收到 EventDisconnected 后更新。
func (s *Session) Disconnect(reason error) {
	s.mu.Lock()
	r := s.responder
	s.mu.Unlock()
	if r != nil {
		r.Disconnect(reason)
	}
}

// Reset 断开当前连接并将收发序号重置为 1。
func (s *Session) Reset() error {
	s.Disconnect(errors.New("session reset"))
	s.Logger().Info("resetting sequence numbers")
	return s.store.Reset()
}

// Process 处理一个入站事件，只能在处理协程中调用。
func (s *Session) Process(ev Event) error {
	switch ev.Kind {
	case EventConnected:
		if !s.isCurrent(ev.Responder) {
			return nil
		}
		return s.onConnected()
	case EventDisconnected:
		if cur := s.currentResponder(); cur != nil && cur != ev.Responder {
			return nil
		}
		s.disconnect(ev.Err)
		return nil
	case EventMessage:
		if ev.Msg == nil || !s.isCurrent(ev.Responder) {
			return nil
		}
		start := time.Now()
		msgType := ev.Msg.MsgType()
		metrics.InboundMessages.WithLabelValues(s.id.String(), msgType).Inc()
		err := s.onMessage(ev.Msg)
		metrics.ProcessLatency.WithLabelValues(msgType).Observe(float64(time.Since(start).Microseconds()) / 1000)
		return err
	}
	return nil
}

// Tick 推进定时逻辑：心跳、TestRequest、登录/登出超时、补发重试与交易时段，只能在处理协程中调用。
func (s *Session) Tick(now time.Time) {
	state := s.State()
	if state == StateDisconnected {
		return
	}

	if !s.cfg.Schedule.IsSessionTime(now) {
		switch state {
		case StateLoggedOn:
			_ = s.initiateLogout("session end time reached")
			return
		case StateLogonPending:
			s.disconnect(merr.ErrProtocolOutsideSchedule)
			return
		}
	}

	switch state {
	case StateLogonPending:
		if now.Sub(s.connectedAt) >= s.cfg.LogonTimeout {
			s.disconnect(errors.Wrapf(merr.ErrProtocolLogonTimeout, "no logon within %s", s.cfg.LogonTimeout))
		}
	case StateLogoutPending:
		if now.Sub(s.logoutSentAt.Load()) >= s.cfg.LogoutTimeout {
			s.Logger().Warn("logout response not received, disconnecting")
			s.disconnect(nil)
		}
	case StateLoggedOn:
		s.checkResend(now)
		if s.State() == StateLoggedOn {
			s.checkHeartbeat(now)
		}
	}
}

func (s *Session) checkHeartbeat(now time.Time) {
	if s.heartBtInt <= 0 {
		return
	}
	if now.Sub(s.lastSent.Load()) >= s.heartBtInt {
		if err := s.Send(s.newHeartbeat("")); err != nil {
			s.Logger().Warn("failed to send heartbeat", zap.Error(err))
		}
	}

	if s.testRequestSentAt.IsZero() {
		if now.Sub(s.lastReceived) >= scale(s.heartBtInt, s.cfg.HeartBeatTolerance) {
			s.testRequestID = uuid.NewString()
			s.testRequestSentAt = now
			s.Logger().Info("counterparty silent, sending test request", zap.String("testReqID", s.testRequestID))
			if err := s.Send(s.newTestRequest(s.testRequestID)); err != nil {
				s.Logger().Warn("failed to send test request", zap.Error(err))
			}
		}
		return
	}
	if now.Sub(s.testRequestSentAt) >= scale(s.heartBtInt, s.cfg.TestRequestGrace) {
		s.disconnect(errors.Wrapf(merr.ErrProtocolHeartbeatTimeout, "no response to test request %s", s.testRequestID))
	}
}

func (s *Session) checkResend(now time.Time) {
	r := s.ledger.resend
	if r == nil || now.Sub(r.sentAt) < s.cfg.ResendRequestTimeout {
		return
	}
	if r.attempts >= s.cfg.MaxResendRetries {
		err := merr.WrapErrProtocolResendExhausted(r.begin, r.end, r.attempts)
		s.Logger().Warn("resend request not satisfied", zap.Error(err))
		s.ledger.resend = nil
		_ = s.initiateLogout(err.Error())
		return
	}
	begin, end := s.ledger.retryResend(now)
	s.Logger().Info("retrying resend request", zap.Int("begin", begin), zap.Int("end", end), zap.Int("attempt", r.attempts))
	s.sendResendRequest(begin, end)
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func (s *Session) setState(state State) State {
	prev := State(s.state.Swap(int32(state)))
	if prev != state {
		s.observeState(state)
	}
	return prev
}

func (s *Session) observeState(state State) {
	metrics.SessionState.WithLabelValues(s.id.String()).Set(float64(state))
}

func (s *Session) currentResponder() Responder {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responder
}

func (s *Session) isCurrent(r Responder) bool {
	cur := s.currentResponder()
	return cur != nil && cur == r
}

func (s *Session) onConnected() error {
	now := s.now()
	s.connectedAt = now
	s.lastReceived = now
	s.lastSent.Store(now)
	s.testRequestSentAt = time.Time{}
	s.heartBtInt = s.cfg.HeartBtInt
	s.sentResetSeqNum = false

	if !s.cfg.Schedule.IsSameSession(s.store.CreationTime(), now) {
		s.Logger().Info("new session period, resetting sequence numbers")
		if err := s.store.Reset(); err != nil {
			return err
		}
	}
	if !s.cfg.Initiator {
		return nil
	}
	if !s.cfg.Schedule.IsSessionTime(now) {
		s.disconnect(merr.ErrProtocolOutsideSchedule)
		return nil
	}
	if s.cfg.ResetOnLogon {
		if err := s.store.Reset(); err != nil {
			return err
		}
		s.sentResetSeqNum = true
	}
	s.Logger().Info("sending logon", zap.Duration("heartBtInt", s.heartBtInt))
	if err := s.Send(s.newLogon(s.sentResetSeqNum)); err != nil {
		s.disconnect(err)
		return err
	}
	return nil
}

// disconnect 解除连接绑定并清理会话状态，只能在处理协程中调用。
func (s *Session) disconnect(reason error) {
	s.mu.Lock()
	r := s.responder
	s.responder = nil
	prev := s.setState(StateDisconnected)
	s.mu.Unlock()

	if r != nil {
		r.Disconnect(reason)
	}
	if prev == StateDisconnected && r == nil {
		return
	}

	fields := []zap.Field{zap.Stringer("prevState", prev)}
	if reason != nil {
		fields = append(fields, zap.Error(reason))
	}
	s.Logger().Info("session disconnected", fields...)
	metrics.Disconnects.WithLabelValues(s.id.String()).Inc()

	if s.loggedOn {
		s.loggedOn = false
		s.app.OnLogout(s.id)
	}
	if s.cfg.ResetOnDisconnect {
		if err := s.store.Reset(); err != nil {
			s.Logger().Warn("failed to reset store on disconnect", zap.Error(err))
		}
	}
	s.ledger.clear()
	s.testRequestSentAt = time.Time{}
	s.testRequestID = ""
}

// logoutAndDisconnect 尽力发送 Logout 后断开连接。
func (s *Session) logoutAndDisconnect(text string, reason error) {
	if err := s.Send(s.newLogout(text)); err != nil {
		s.Logger().Debug("failed to send logout before disconnect", zap.Error(err))
	}
	s.disconnect(reason)
}

// sendLocked 为出站消息分配序号、持久化并写出，调用方需持有 mu。
func (s *Session) sendLocked(msg *fix.Message) error {
	isApp := !msg.IsAdmin()
	loggedOn := s.State() == StateLoggedOn
	if isApp && !loggedOn && !s.cfg.PersistMessages {
		return merr.WrapErrSessionNotLoggedOn(s.id.String())
	}
	if !isApp && s.responder == nil {
		return errors.Wrapf(merr.ErrTransportClosed, "session %s has no connection", s.id)
	}

	seq := s.store.NextSenderMsgSeqNum()
	now := s.now()
	s.fillHeader(msg, seq, now)
	if isApp {
		if err := s.app.ToApp(msg, s.id); err != nil {
			return err
		}
	} else {
		s.app.ToAdmin(msg, s.id)
	}

	raw, err := s.codec.Encode(msg)
	if err != nil {
		return err
	}
	if s.cfg.PersistMessages {
		if err := s.store.Set(seq, raw); err != nil {
			return err
		}
	}
	if err := s.store.IncrNextSenderMsgSeqNum(); err != nil {
		return err
	}
	if isApp && (!loggedOn || s.responder == nil) {
		s.Logger().Debug("session not logged on, message journaled for resend", log.FieldSeqNum(seq))
		return nil
	}
	return s.writeLocked(msg.MsgType(), raw, now)
}

func (s *Session) writeLocked(msgType string, raw []byte, now time.Time) error {
	if s.responder == nil {
		return errors.Wrapf(merr.ErrTransportClosed, "session %s has no connection", s.id)
	}
	if err := s.responder.Send(raw); err != nil {
		return err
	}
	s.lastSent.Store(now)
	metrics.OutboundMessages.WithLabelValues(s.id.String(), msgType).Inc()
	metrics.OutboundMessageSize.Observe(float64(len(raw)))
	return nil
}

func (s *Session) fillHeader(msg *fix.Message, seq int, now time.Time) {
	h := &msg.Header
	h.Set(fix.TagBeginString, s.id.BeginString)
	h.Set(fix.TagSenderCompID, s.id.SenderCompID)
	if s.id.SenderSubID != "" {
		h.Set(fix.TagSenderSubID, s.id.SenderSubID)
	}
	if s.id.SenderLocationID != "" {
		h.Set(fix.TagSenderLocationID, s.id.SenderLocationID)
	}
	h.Set(fix.TagTargetCompID, s.id.TargetCompID)
	if s.id.TargetSubID != "" {
		h.Set(fix.TagTargetSubID, s.id.TargetSubID)
	}
	if s.id.TargetLocationID != "" {
		h.Set(fix.TagTargetLocationID, s.id.TargetLocationID)
	}
	h.SetInt(fix.TagMsgSeqNum, seq)
	h.SetTime(fix.TagSendingTime, now)
}

func (s *Session) sendResendRequest(begin, end int) {
	s.Logger().Info("sending resend request", zap.Int("begin", begin), zap.Int("end", end))
	metrics.ResendRequests.WithLabelValues(s.id.String()).Inc()
	if err := s.Send(s.newResendRequest(begin, end)); err != nil {
		s.Logger().Warn("failed to send resend request", zap.Error(err))
	}
}

func (s *Session) sendReject(ref *fix.Message, cause error) {
	reason, _ := merr.RejectReason(cause)
	s.Logger().Warn("rejecting message",
		log.FieldMsgType(ref.MsgType()),
		zap.Int("reason", reason),
		zap.Error(cause))
	metrics.Rejects.WithLabelValues(s.id.String(), rejectLabel(cause)).Inc()
	if err := s.Send(s.newReject(ref, cause)); err != nil {
		s.Logger().Warn("failed to send reject", zap.Error(err))
	}
}

func rejectLabel(cause error) string {
	if reason, ok := merr.RejectReason(cause); ok {
		return strconv.Itoa(reason)
	}
	return "other"
}
