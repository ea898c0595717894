package connector

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/network/codec"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/internal/network/store"
	"github.com/lk2023060901/fixgarden-go/internal/network/strategy"
	"github.com/lk2023060901/fixgarden-go/internal/network/transport"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/metrics"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
	"github.com/lk2023060901/fixgarden-go/pkg/util/typeutil"
)

// Role 为 Connector 的角色。
type Role int

const (
	// RoleAcceptor 监听端口，等待对端发起 Logon。
	RoleAcceptor Role = iota
	// RoleInitiator 主动连接对端并发送 Logon。
	RoleInitiator
)

func (r Role) String() string {
	if r == RoleInitiator {
		return config.ConnectionTypeInitiator
	}
	return config.ConnectionTypeAcceptor
}

// TransportFactory 按协议名称与 TLS 配置创建 Transport，tlsConfig 为 nil 时不启用 TLS。
type TransportFactory func(protocol string, tlsConfig *tls.Config) (transport.Transport, error)

const (
	stopReason      = "connector stopping"
	logoutPollEvery = 10 * time.Millisecond
	bindRetrySleep  = 100 * time.Millisecond
)

type options struct {
	registry     session.Registry
	storeFactory store.Factory
	strategyMode string
	strategyOpts []strategy.Option
	transports   TransportFactory
	codec        codec.Codec
	sessionOpts  []session.Option
	writeTimeout time.Duration
}

// Option 为 Connector 的可选参数。
type Option func(o *options)

// WithRegistry 注入会话注册表，默认每个 Connector 使用独立的注册表。
func WithRegistry(r session.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}

// WithStoreFactory 注入消息存储工厂，默认使用内存存储。
func WithStoreFactory(f store.Factory) Option {
	return func(o *options) {
		o.storeFactory = f
	}
}

// WithStrategy 选择事件处理模式：strategy.ModeSingleThreaded 或 strategy.ModeThreaded。
func WithStrategy(mode string, opts ...strategy.Option) Option {
	return func(o *options) {
		o.strategyMode = mode
		o.strategyOpts = append(o.strategyOpts, opts...)
	}
}

// WithTransportFactory 替换 Transport 工厂。
func WithTransportFactory(f TransportFactory) Option {
	return func(o *options) {
		o.transports = f
	}
}

// WithCodec 替换连接与会话使用的编解码器。
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// WithSessionOptions 追加创建会话时使用的参数。
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithWriteTimeout 设置单次写出与写队列满时的等待上限，不大于 0 时使用 defaultWriteTimeout。
func WithWriteTimeout(d time.Duration) Option {
	return func(o *options) {
		o.writeTimeout = d
	}
}

// Connector 按配置创建会话并管理其传输端点，角色在创建时确定。
//
// 生命周期：
//   - Start 幂等，按声明顺序建立会话、注册到 Registry、绑定端点并启动事件处理；
//   - Stop 幂等，可选地先完成 Logout 交换，再关闭端点与连接、停止处理协程、注销全部会话；
//   - Stop 之后再次 Start 会重新创建全部会话与处理协程。
type Connector struct {
	log.Binder

	role     Role
	settings *config.Settings
	app      session.Application
	opts     options
	strategy strategy.Strategy

	// lifecycle 串行化 Start 与 Stop。
	lifecycle sync.Mutex

	// mu 保护以下字段。
	mu        sync.Mutex
	running   bool
	ctx       context.Context
	cancel    context.CancelFunc
	sessions  map[session.SessionID]*managed
	order     []session.SessionID
	endpoints []*endpoint
	templates []*template
	targets   []*target
	loops     []*conc.Future[struct{}]

	conns    *typeutil.ConcurrentSet[*conn]
	handlers sync.WaitGroup

	// routing 执行 Acceptor 连接的 Logon 路由与模板会话创建，仅 Acceptor 使用。
	routing *conc.Pool[*managed]
}

// managed 为 Connector 持有的会话。
type managed struct {
	sess     *session.Session
	settings *config.Dictionary
	conn     connOptions
	endpoint *endpoint
	target   *target
	spawned  bool
}

// New 创建 Connector，模式名称错误时返回配置错误。
func New(role Role, settings *config.Settings, app session.Application, opts ...Option) (*Connector, error) {
	if settings == nil {
		return nil, merr.WrapErrConfigInvalid("settings", "nil")
	}
	o := options{
		storeFactory: store.NewMemoryStoreFactory(),
		transports:   transport.New,
		codec:        codec.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = session.NewRegistry()
	}
	st, err := strategy.New(o.strategyMode, o.strategyOpts...)
	if err != nil {
		return nil, err
	}
	c := &Connector{
		role:     role,
		settings: settings,
		app:      app,
		opts:     o,
		strategy: st,
		conns:    typeutil.NewConcurrentSet[*conn](),
	}
	c.SetLogger(log.With(log.FieldComponent(role.String())))
	return c, nil
}

// Role 返回角色。
func (c *Connector) Role() Role {
	return c.role
}

// Registry 返回会话注册表。
func (c *Connector) Registry() session.Registry {
	return c.opts.registry
}

// Strategy 返回事件处理策略。
func (c *Connector) Strategy() strategy.Strategy {
	return c.strategy
}

// Start 建立会话与端点并启动事件处理，已启动时直接返回 nil。
//
// 单个会话初始化失败时：
//   - 配置错误（协议名称、ConnectionType、端口等）发生在注册之前，会话不会被注册；
//   - 端点错误（TLS 证书库、绑定失败）发生在注册之后，会话保持注册但没有可用端点；
//   - ContinueInitializationOnError=Y 时记录错误并继续初始化其余会话，否则回滚并返回第一个错误。
func (c *Connector) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, span := log.NewIntentContext(c.role.String(), "start")
	defer span.End()
	logger := log.Ctx(ctx)

	c.reset()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	if c.role == RoleAcceptor {
		c.routing = conc.NewDefaultPool[*managed](conc.WithConcealPanic(true))
	}

	var errs []error
	for _, d := range c.settings.Sessions() {
		err := c.setup(d)
		if err == nil {
			continue
		}
		continueOnError, _ := d.BoolOr(config.ContinueInitializationOnError, false)
		if !continueOnError {
			logger.Warn("session initialization failed, aborting start", zap.String("section", d.Name()), zap.Error(err))
			c.cancel()
			c.release()
			return err
		}
		logger.Warn("session initialization failed, continuing", zap.String("section", d.Name()), zap.Error(err))
		errs = append(errs, err)
	}

	if err := c.strategy.Start(); err != nil {
		c.cancel()
		c.release()
		return err
	}

	c.mu.Lock()
	c.running = true
	for _, ep := range c.endpoints {
		if ep.bound() {
			c.loops = append(c.loops, c.launchServe(ep))
		}
	}
	for _, t := range c.targets {
		c.loops = append(c.loops, c.launchConnect(t))
	}
	sessions, endpoints := len(c.sessions), len(c.endpoints)
	c.mu.Unlock()

	fields := []zap.Field{zap.Int("sessions", sessions), zap.Int("endpoints", endpoints), zap.String("strategy", c.strategy.Mode())}
	if len(errs) > 0 {
		fields = append(fields, zap.NamedError("initErrors", merr.Combine(errs...)))
	}
	logger.Info("connector started", fields...)
	return nil
}

// Stop 停止 Connector。force 为 false 时先对已登录的会话发起 Logout，
// 最多等待各会话的 LogoutTimeout；随后关闭端点与连接、停止处理协程并注销全部会话。
func (c *Connector) Stop(force bool) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()

	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	owned := lo.Values(c.sessions)
	endpoints := c.endpoints
	loops := c.loops
	cancel := c.cancel
	c.mu.Unlock()

	ctx, span := log.NewIntentContext(c.role.String(), "stop")
	defer span.End()
	logger := log.Ctx(ctx)
	logger.Info("stopping connector", zap.Bool("force", force))

	if !force {
		c.logoutAll(ctx, owned)
	}

	cancel()
	for _, ep := range endpoints {
		ep.close()
	}
	c.conns.Range(func(cn *conn) bool {
		cn.Disconnect(errors.New(stopReason))
		return true
	})
	if err := conc.AwaitAll(loops...); err != nil {
		logger.Warn("connector loop exited with error", zap.Error(err))
	}
	c.handlers.Wait()
	c.strategy.Stop()
	c.release()

	logger.Info("connector stopped")
}

// IsRunning 判断 Connector 是否已启动。
func (c *Connector) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Sessions 返回当前持有的会话标识，按声明顺序排列，模板创建的会话排在最后。
func (c *Connector) Sessions() []session.SessionID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.SessionID(nil), c.order...)
}

// Session 返回 Connector 持有的会话。
func (c *Connector) Session(id session.SessionID) (*session.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessions[id]
	if !ok {
		return nil, false
	}
	return m.sess, true
}

// IsLoggedOn 判断是否存在已登录的会话。
func (c *Connector) IsLoggedOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return lo.SomeBy(lo.Values(c.sessions), func(m *managed) bool {
		return m.sess.IsLoggedOn()
	})
}

// setup 初始化单个会话配置。
func (c *Connector) setup(d *config.Dictionary) error {
	id, err := session.SessionIDFromSettings(d)
	if err != nil {
		return err
	}
	if ct := d.StringOr(config.ConnectionType, ""); !strings.EqualFold(ct, c.role.String()) {
		return merr.WrapErrConfigInvalid(config.ConnectionType, ct, "connector role is "+c.role.String())
	}
	isTemplate, err := d.BoolOr(config.AcceptorTemplate, false)
	if err != nil {
		return err
	}
	if isTemplate && c.role != RoleAcceptor {
		return merr.WrapErrConfigInvalid(config.AcceptorTemplate, "Y", "templates are only supported by acceptors")
	}
	cfg, err := session.ConfigFromSettings(d)
	if err != nil {
		return err
	}
	copts, err := c.connOptionsFromSettings(d)
	if err != nil {
		return err
	}
	protocol, address, err := c.addressFromSettings(d)
	if err != nil {
		return err
	}
	if _, err := c.opts.transports(protocol, nil); err != nil {
		return err
	}

	if isTemplate {
		ep, err := c.endpointFor(protocol, address, d, copts, cfg.LogonTimeout)
		if err != nil {
			return err
		}
		t := &template{pattern: id, settings: d, cfg: cfg, conn: copts}
		c.mu.Lock()
		c.templates = append(c.templates, t)
		ep.templates = append(ep.templates, t)
		c.mu.Unlock()
		c.Logger().Info("acceptor template configured", log.FieldSession(id), log.FieldAddress(address))
		return nil
	}

	c.mu.Lock()
	_, dup := c.sessions[id]
	c.mu.Unlock()
	if dup {
		return merr.WrapErrConfigDuplicateSession(id.String())
	}
	m, err := c.register(id, cfg, d, copts)
	if err != nil {
		return err
	}

	switch c.role {
	case RoleAcceptor:
		ep, err := c.endpointFor(protocol, address, d, copts, cfg.LogonTimeout)
		if err != nil {
			return err
		}
		c.mu.Lock()
		m.endpoint = ep
		ep.sessions = append(ep.sessions, m)
		c.mu.Unlock()
	case RoleInitiator:
		t, err := c.targetFor(m, protocol, address, d)
		if err != nil {
			return err
		}
		c.mu.Lock()
		m.target = t
		c.targets = append(c.targets, t)
		c.mu.Unlock()
	}
	return nil
}

// register 创建会话并加入 Connector 持有的会话。
func (c *Connector) register(id session.SessionID, cfg session.Config, d *config.Dictionary, copts connOptions) (*managed, error) {
	sess, err := c.create(id, cfg)
	if err != nil {
		return nil, err
	}
	m := &managed{sess: sess, settings: d, conn: copts}

	c.mu.Lock()
	c.sessions[id] = m
	c.order = append(c.order, id)
	c.mu.Unlock()
	c.Logger().Info("session registered", log.FieldSession(id))
	return m, nil
}

// create 创建会话并注册到 Registry。
func (c *Connector) create(id session.SessionID, cfg session.Config) (*session.Session, error) {
	st, err := c.opts.storeFactory.Create(id.String())
	if err != nil {
		return nil, err
	}
	opts := append([]session.Option{session.WithCodec(c.opts.codec)}, c.opts.sessionOpts...)
	sess := session.New(id, cfg, c.app, st, opts...)
	if err := c.opts.registry.Register(sess); err != nil {
		_ = st.Close()
		return nil, err
	}
	metrics.RegisteredSessions.WithLabelValues(c.role.String()).Inc()
	return sess, nil
}

func (c *Connector) connOptionsFromSettings(d *config.Dictionary) (connOptions, error) {
	queueSize, err := d.IntOr(config.OutboundQueueSize, defaultOutboundQueueSize)
	if err != nil {
		return connOptions{}, err
	}
	if queueSize <= 0 {
		return connOptions{}, merr.WrapErrConfigInvalid(config.OutboundQueueSize, queueSize)
	}
	disconnect, err := d.BoolOr(config.DisconnectOnFramingError, false)
	if err != nil {
		return connOptions{}, err
	}
	return connOptions{
		queueSize:                queueSize,
		writeTimeout:             c.opts.writeTimeout,
		disconnectOnFramingError: disconnect,
	}, nil
}

// addressFromSettings 读取端点的协议与地址，Acceptor 读取 SocketAccept*，Initiator 读取 SocketConnect*。
func (c *Connector) addressFromSettings(d *config.Dictionary) (protocol, address string, err error) {
	hostKey, portKey, protocolKey := config.SocketAcceptHost, config.SocketAcceptPort, config.SocketAcceptProtocol
	if c.role == RoleInitiator {
		hostKey, portKey, protocolKey = config.SocketConnectHost, config.SocketConnectPort, config.SocketConnectProtocol
	}
	host := d.StringOr(hostKey, "")
	if c.role == RoleInitiator && host == "" {
		return "", "", merr.WrapErrConfigMissing(hostKey, d.Name())
	}
	port, err := d.Int(portKey)
	if err != nil {
		return "", "", err
	}
	if port < 0 || port > 65535 {
		return "", "", merr.WrapErrConfigInvalid(portKey, port, d.Name())
	}
	protocol = strings.ToUpper(d.StringOr(protocolKey, config.ProtocolSocket))
	return protocol, net.JoinHostPort(host, strconv.Itoa(port)), nil
}

// logoutAll 对已登录的会话并发发起 Logout，等待各自断开或 LogoutTimeout 到期。
func (c *Connector) logoutAll(ctx context.Context, owned []*managed) {
	g, gctx := errgroup.WithContext(ctx)
	for _, m := range owned {
		sess := m.sess
		if !sess.IsLoggedOn() {
			continue
		}
		g.Go(func() error {
			if err := sess.Logout(stopReason); err != nil {
				log.Ctx(gctx).Warn("failed to send logout", log.FieldSession(sess.ID()), zap.Error(err))
				return nil
			}
			waitDisconnected(gctx, sess, sess.Config().LogoutTimeout)
			return nil
		})
	}
	_ = g.Wait()
}

func waitDisconnected(ctx context.Context, sess *session.Session, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	ticker := time.NewTicker(logoutPollEvery)
	defer ticker.Stop()
	for sess.IsConnected() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reset 清空上一轮运行留下的状态。
func (c *Connector) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = make(map[session.SessionID]*managed)
	c.order = nil
	c.endpoints = nil
	c.templates = nil
	c.targets = nil
	c.loops = nil
}

// release 关闭端点并注销全部会话。
func (c *Connector) release() {
	c.mu.Lock()
	owned := lo.Values(c.sessions)
	endpoints := c.endpoints
	c.sessions = make(map[session.SessionID]*managed)
	c.order = nil
	c.endpoints = nil
	c.templates = nil
	c.targets = nil
	c.loops = nil
	routing := c.routing
	c.routing = nil
	c.mu.Unlock()

	if routing != nil {
		routing.Release()
	}
	for _, ep := range endpoints {
		ep.close()
	}
	for _, m := range owned {
		id := m.sess.ID()
		if err := c.opts.registry.Unregister(id); err != nil {
			c.Logger().Warn("failed to unregister session", log.FieldSession(id), zap.Error(err))
		}
		if err := m.sess.Store().Close(); err != nil {
			c.Logger().Warn("failed to close message store", log.FieldSession(id), zap.Error(err))
		}
		metrics.RegisteredSessions.WithLabelValues(c.role.String()).Dec()
	}
}
