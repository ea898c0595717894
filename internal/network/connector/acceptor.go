package connector

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network"
	"github.com/lk2023060901/fixgarden-go/internal/network/framer"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/internal/network/transport"
	"github.com/lk2023060901/fixgarden-go/pkg/log"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
	"github.com/lk2023060901/fixgarden-go/pkg/util/retry"
)

const defaultBindAttempts = 3

// Endpoint 描述 Acceptor 的一个监听端点。
type Endpoint struct {
	Protocol string
	Address  string
	// Secure 表示启用了 TLS。
	Secure bool
	// Bound 表示监听成功。
	Bound bool
	// CodecInstalled 表示端点已接入 FIX 分帧与路由，只有绑定成功的端点才会接入。
	CodecInstalled bool
	Sessions       []session.SessionID
	Templates      []session.SessionID
	// Err 为端点建立失败的原因。
	Err error
}

// endpoint 为一个监听地址，多个会话可以共享同一端点，按首条 Logon 的会话标识路由。
type endpoint struct {
	key      string
	protocol string
	address  string
	secure   bool
	listener net.Listener
	err      error
	logger   *log.MLogger

	// 路由前读取首条消息使用的参数，取自第一个使用该端点的会话。
	conn         connOptions
	logonTimeout time.Duration

	sessions  []*managed
	templates []*template
}

// template 为通配会话模板，首次收到匹配的 Logon 时创建具体会话。
type template struct {
	pattern  session.SessionID
	settings *config.Dictionary
	cfg      session.Config
	conn     connOptions
}

func (ep *endpoint) bound() bool {
	return ep.listener != nil
}

func (ep *endpoint) close() {
	if ep.listener != nil {
		_ = ep.listener.Close()
	}
}

// Endpoints 返回 Acceptor 的监听端点，Initiator 返回空。
func (c *Connector) Endpoints() []Endpoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Endpoint, 0, len(c.endpoints))
	for _, ep := range c.endpoints {
		e := Endpoint{
			Protocol:       ep.protocol,
			Address:        ep.address,
			Secure:         ep.secure,
			Bound:          ep.bound(),
			CodecInstalled: ep.bound(),
			Err:            ep.err,
		}
		if ep.bound() {
			e.Address = ep.listener.Addr().String()
		}
		for _, m := range ep.sessions {
			e.Sessions = append(e.Sessions, m.sess.ID())
		}
		for _, t := range ep.templates {
			e.Templates = append(e.Templates, t.pattern)
		}
		out = append(out, e)
	}
	return out
}

// endpointFor 返回协议与地址对应的端点，不存在时创建并绑定。
// 绑定失败的端点同样会被记录，供 Endpoints 查询。
func (c *Connector) endpointFor(protocol, address string, d *config.Dictionary, copts connOptions, logonTimeout time.Duration) (*endpoint, error) {
	key := protocol + "://" + address
	c.mu.Lock()
	for _, ep := range c.endpoints {
		if ep.key == key {
			c.mu.Unlock()
			if !ep.bound() {
				return nil, ep.err
			}
			return ep, nil
		}
	}
	c.mu.Unlock()

	ep := &endpoint{
		key:          key,
		protocol:     protocol,
		address:      address,
		conn:         copts,
		logonTimeout: logonTimeout,
		logger:       c.Logger().With(log.FieldAddress(address), zap.String("protocol", protocol)),
	}
	ep.listener, ep.err = c.bind(ep, d)
	if ep.err != nil {
		ep.logger.Warn("endpoint setup failed", network.FieldStage(network.StageBind), zap.Error(ep.err))
	} else {
		ep.logger.Info("endpoint bound", zap.Stringer("listen", ep.listener.Addr()), zap.Bool("secure", ep.secure))
	}

	c.mu.Lock()
	c.endpoints = append(c.endpoints, ep)
	c.mu.Unlock()
	return ep, ep.err
}

func (c *Connector) bind(ep *endpoint, d *config.Dictionary) (net.Listener, error) {
	tlsOpts, secure, err := transport.TLSOptionsFromSettings(d)
	if err != nil {
		return nil, err
	}
	ep.secure = secure
	var tlsConfig *tls.Config
	if secure {
		if tlsConfig, err = tlsOpts.ServerConfig(); err != nil {
			return nil, err
		}
	}
	tr, err := c.opts.transports(ep.protocol, tlsConfig)
	if err != nil {
		return nil, err
	}

	attempts, err := d.IntOr(config.SocketBindAttempts, defaultBindAttempts)
	if err != nil {
		return nil, err
	}
	var l net.Listener
	err = retry.Do(c.ctx, func() error {
		var err error
		l, err = tr.Listen(c.ctx, ep.address)
		return err
	}, retry.Attempts(uint(max(attempts, 1))), retry.Sleep(bindRetrySleep))
	return l, err
}

// launchServe 启动端点的接受循环，调用方需持有 mu。
func (c *Connector) launchServe(ep *endpoint) *conc.Future[struct{}] {
	ctx, routing := c.ctx, c.routing
	return conc.Go(func() (struct{}, error) {
		c.serve(ctx, ep, routing)
		return struct{}{}, nil
	})
}

// serve 为端点的接受循环，监听器关闭后退出。
func (c *Connector) serve(ctx context.Context, ep *endpoint, routing *conc.Pool[*managed]) {
	for {
		nc, err := ep.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			ep.logger.Warn("accept failed, endpoint closed", zap.Error(err))
			return
		}
		c.handlers.Add(1)
		_ = conc.Go(func() (struct{}, error) {
			defer c.handlers.Done()
			c.accept(ctx, ep, nc, routing)
			return struct{}{}, nil
		})
	}
}

// accept 读取首条消息，在路由协程池中找到对应会话，随后进入收发循环。
// 登录前的连接在 ctx 取消时立即关闭，不等待 LogonTimeout。
func (c *Connector) accept(ctx context.Context, ep *endpoint, nc net.Conn, routing *conc.Pool[*managed]) {
	logger := ep.logger.With(log.FieldRemote(nc.RemoteAddr()))
	rd := framer.NewReader(nc, nil)

	stop := context.AfterFunc(ctx, func() {
		_ = nc.Close()
	})
	logon, err := c.readLogon(ep, nc, rd, logger)
	if !stop() && err == nil {
		err = errors.Wrap(ctx.Err(), stopReason)
	}
	if err != nil {
		logger.Debug("handshake aborted", zap.Error(err))
		_ = nc.Close()
		return
	}

	m, err := routing.Submit(func() (*managed, error) {
		return c.route(ep, session.InboundSessionID(logon))
	}).Await()
	if err != nil {
		logger.Warn("unable to route logon, closing connection", network.FieldStage(network.StageRoute), zap.Error(err))
		_ = nc.Close()
		return
	}
	if err := c.run(ctx, m, nc, rd, logon); err != nil {
		logger.Info("connection closed", log.FieldSession(m.sess.ID()), zap.Error(err))
	}
}

// readLogon 在 LogonTimeout 内读取首条消息，首条消息必须为 Logon。
func (c *Connector) readLogon(ep *endpoint, nc net.Conn, rd *framer.Reader, logger *log.MLogger) (*fix.Message, error) {
	_ = nc.SetReadDeadline(time.Now().Add(ep.logonTimeout))
	msg, err := readMessage(rd, c.opts.codec, c.role, logger, ep.conn.disconnectOnFramingError)
	if err != nil {
		logger.Info("connection closed before logon", network.FieldStage(network.StageRecv), zap.Error(err))
		return nil, err
	}
	_ = nc.SetReadDeadline(time.Time{})

	if msgType := msg.MsgType(); msgType != fix.MsgTypeLogon {
		err := merr.WrapErrProtocolFirstNotLogon(msgType)
		logger.Warn("closing connection", network.FieldStage(network.StageRoute), zap.Error(err))
		return nil, err
	}
	return msg, nil
}

// route 通过 Registry 查找端点上与 id 对应的会话，没有时尝试用模板创建。
// 已从 Registry 移除的会话不再接受登录。
func (c *Connector) route(ep *endpoint, id session.SessionID) (*managed, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil, merr.ErrConnectorNotStarted
	}
	if m, ok := c.lookup(ep, id); ok {
		return m, nil
	}
	// Logon 不携带 Qualifier，按去掉 Qualifier 后的标识匹配。
	for _, m := range ep.sessions {
		candidate := m.sess.ID()
		if candidate.Qualifier == "" {
			continue
		}
		candidate.Qualifier = ""
		if candidate != id {
			continue
		}
		if m, ok := c.lookup(ep, m.sess.ID()); ok {
			return m, nil
		}
	}
	for _, t := range ep.templates {
		if !t.pattern.Matches(id) {
			continue
		}
		concrete := t.pattern.Resolve(id)
		if _, exists := c.sessions[concrete]; exists {
			if m, ok := c.lookup(ep, concrete); ok {
				return m, nil
			}
			break
		}
		return c.spawn(t, concrete, ep)
	}
	return nil, merr.WrapErrProtocolUnknownSession(id.String())
}

// lookup 返回 Registry 中 id 对应且绑定在 ep 上的会话，调用方需持有 mu。
func (c *Connector) lookup(ep *endpoint, id session.SessionID) (*managed, bool) {
	sess, ok := c.opts.registry.Get(id)
	if !ok {
		return nil, false
	}
	m, ok := c.sessions[id]
	if !ok || m.sess != sess || m.endpoint != ep {
		return nil, false
	}
	return m, true
}

// spawn 按模板创建并注册具体会话，调用方需持有 mu。
func (c *Connector) spawn(t *template, id session.SessionID, ep *endpoint) (*managed, error) {
	sess, err := c.create(id, t.cfg)
	if err != nil {
		return nil, err
	}
	m := &managed{sess: sess, settings: t.settings, conn: t.conn, endpoint: ep, spawned: true}
	c.sessions[id] = m
	c.order = append(c.order, id)
	ep.sessions = append(ep.sessions, m)
	c.Logger().Info("session created from template", log.FieldSession(id), zap.Stringer("template", t.pattern))
	return m, nil
}
