package connector

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/codec"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/internal/network/strategy"
	"github.com/lk2023060901/fixgarden-go/internal/network/transport"
	"github.com/lk2023060901/fixgarden-go/pkg/util/conc"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

const (
	waitFor = 5 * time.Second
	tick    = 10 * time.Millisecond
)

var pipeSeq atomic.Int32

// pipeHost 返回本进程内唯一的 VM_PIPE 主机名，避免用例之间地址冲突。
func pipeHost() string {
	return fmt.Sprintf("connector-test-%d", pipeSeq.Inc())
}

func acceptorID(target string) session.SessionID {
	return session.SessionID{BeginString: fix.BeginStringFIX42, SenderCompID: "EXEC", TargetCompID: target}
}

func initiatorID(sender string) session.SessionID {
	return session.SessionID{BeginString: fix.BeginStringFIX42, SenderCompID: sender, TargetCompID: "EXEC"}
}

func acceptorSettings(host string, targets ...string) *config.Settings {
	settings := config.NewSettings()
	settings.Defaults().
		Set(config.ConnectionType, config.ConnectionTypeAcceptor).
		Set(config.BeginString, fix.BeginStringFIX42).
		Set(config.SenderCompID, "EXEC").
		Set(config.SocketAcceptProtocol, config.ProtocolVMPipe).
		Set(config.SocketAcceptHost, host).
		Set(config.SocketAcceptPort, "9880")
	for _, target := range targets {
		settings.AddSession(config.NewDictionary(target).Set(config.TargetCompID, target))
	}
	return settings
}

func initiatorSettings(host string, senders ...string) *config.Settings {
	settings := config.NewSettings()
	settings.Defaults().
		Set(config.ConnectionType, config.ConnectionTypeInitiator).
		Set(config.BeginString, fix.BeginStringFIX42).
		Set(config.TargetCompID, "EXEC").
		Set(config.SocketConnectProtocol, config.ProtocolVMPipe).
		Set(config.SocketConnectHost, host).
		Set(config.SocketConnectPort, "9880").
		Set(config.ReconnectInterval, "0.05").
		Set(config.LogoutTimeout, "1").
		Set(config.ResetOnDisconnect, "Y")
	for _, sender := range senders {
		settings.AddSession(config.NewDictionary(sender).Set(config.SenderCompID, sender))
	}
	return settings
}

type testApp struct {
	session.ApplicationAdapter

	logons  atomic.Int32
	logouts atomic.Int32

	mu       sync.Mutex
	received []*fix.Message
}

func (a *testApp) OnLogon(session.SessionID) {
	a.logons.Inc()
}

func (a *testApp) OnLogout(session.SessionID) {
	a.logouts.Inc()
}

func (a *testApp) FromApp(msg *fix.Message, _ session.SessionID) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.received = append(a.received, msg)
	return nil
}

func (a *testApp) messages() []*fix.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]*fix.Message(nil), a.received...)
}

type ConnectorSuite struct {
	suite.Suite
	started []*Connector
}

func (s *ConnectorSuite) TearDownTest() {
	// 先停 Initiator，避免其在 Acceptor 停止后反复重连。
	for i := len(s.started) - 1; i >= 0; i-- {
		s.started[i].Stop(true)
	}
	s.started = nil
}

func (s *ConnectorSuite) newConnector(role Role, settings *config.Settings, app session.Application, opts ...Option) *Connector {
	c, err := New(role, settings, app, opts...)
	s.Require().NoError(err)
	s.started = append(s.started, c)
	return c
}

func (s *ConnectorSuite) start(role Role, settings *config.Settings, app session.Application, opts ...Option) *Connector {
	c := s.newConnector(role, settings, app, opts...)
	s.Require().NoError(c.Start())
	return c
}

func (s *ConnectorSuite) loggedOn(c *Connector, ids ...session.SessionID) bool {
	for _, id := range ids {
		sess, ok := c.Session(id)
		if !ok || !sess.IsLoggedOn() {
			return false
		}
	}
	return true
}

func (s *ConnectorSuite) TestNewRejectsUnknownStrategy() {
	_, err := New(RoleAcceptor, config.NewSettings(), &testApp{}, WithStrategy("fiber"))
	s.ErrorIs(err, merr.ErrConfigInvalid)
	_, err = New(RoleAcceptor, nil, &testApp{})
	s.ErrorIs(err, merr.ErrConfigInvalid)
}

func (s *ConnectorSuite) TestStartStopRestart() {
	host := pipeHost()
	acc := s.start(RoleAcceptor, acceptorSettings(host, "A", "B"), &testApp{})
	s.True(acc.IsRunning())
	s.Equal(2, acc.Registry().Count())
	s.Equal([]session.SessionID{acceptorID("A"), acceptorID("B")}, acc.Sessions())

	// 重复启动不会重复注册。
	s.NoError(acc.Start())
	s.Equal(2, acc.Registry().Count())

	endpoints := acc.Endpoints()
	s.Require().Len(endpoints, 1)
	s.True(endpoints[0].Bound)
	s.True(endpoints[0].CodecInstalled)
	s.Equal(config.ProtocolVMPipe, endpoints[0].Protocol)
	s.Equal(net.JoinHostPort(host, "9880"), endpoints[0].Address)
	s.ElementsMatch([]session.SessionID{acceptorID("A"), acceptorID("B")}, endpoints[0].Sessions)

	acc.Stop(false)
	acc.Stop(false)
	s.False(acc.IsRunning())
	s.Zero(acc.Registry().Count())
	s.Empty(acc.Sessions())
	s.Empty(acc.Endpoints())

	s.NoError(acc.Start())
	s.True(acc.IsRunning())
	s.Equal(2, acc.Registry().Count())
	s.Require().Len(acc.Endpoints(), 1)
	s.True(acc.Endpoints()[0].Bound)
}

func (s *ConnectorSuite) TestStopBeforeStart() {
	acc := s.newConnector(RoleAcceptor, acceptorSettings(pipeHost(), "A"), &testApp{})
	acc.Stop(false)
	s.False(acc.IsRunning())
	s.False(acc.IsLoggedOn())
}

func (s *ConnectorSuite) TestLogonExchangeAndGracefulStop() {
	host := pipeHost()
	accApp, iniApp := &testApp{}, &testApp{}
	acc := s.start(RoleAcceptor, acceptorSettings(host, "BANZAI"), accApp)
	ini := s.start(RoleInitiator, initiatorSettings(host, "BANZAI"), iniApp)

	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("BANZAI")) && s.loggedOn(ini, initiatorID("BANZAI"))
	}, waitFor, tick)
	s.True(acc.IsLoggedOn())
	s.True(ini.IsLoggedOn())
	s.Eventually(func() bool {
		return accApp.logons.Load() == 1 && iniApp.logons.Load() == 1
	}, waitFor, tick)

	sess, ok := ini.Session(initiatorID("BANZAI"))
	s.Require().True(ok)
	order := fix.NewMessage(fix.MsgTypeNewOrderSingle)
	order.Body.Set(fix.TagClOrdID, "ord-1")
	order.Body.Set(fix.TagSymbol, "IBM")
	s.Require().NoError(sess.Send(order))

	s.Eventually(func() bool { return len(accApp.messages()) == 1 }, waitFor, tick)
	clOrdID, _ := accApp.messages()[0].Body.Get(fix.TagClOrdID)
	s.Equal("ord-1", clOrdID)

	ini.Stop(false)
	s.Eventually(func() bool { return iniApp.logouts.Load() == 1 }, waitFor, tick)
	s.Eventually(func() bool { return accApp.logouts.Load() == 1 }, waitFor, tick)
	s.Eventually(func() bool { return !acc.IsLoggedOn() }, waitFor, tick)
	s.Zero(ini.Registry().Count())
	s.Equal(1, acc.Registry().Count())
}

func (s *ConnectorSuite) TestInitiatorReconnectsAfterAcceptorRestart() {
	host := pipeHost()
	acc := s.start(RoleAcceptor, acceptorSettings(host, "BANZAI"), &testApp{})
	ini := s.start(RoleInitiator, initiatorSettings(host, "BANZAI"), &testApp{})
	s.Eventually(func() bool { return s.loggedOn(ini, initiatorID("BANZAI")) }, waitFor, tick)

	acc.Stop(true)
	s.Eventually(func() bool { return !ini.IsLoggedOn() }, waitFor, tick)

	s.Require().NoError(acc.Start())
	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("BANZAI")) && s.loggedOn(ini, initiatorID("BANZAI"))
	}, waitFor, tick)
}

func (s *ConnectorSuite) TestSocketTransport() {
	settings := acceptorSettings("127.0.0.1", "BANZAI")
	settings.Defaults().
		Set(config.SocketAcceptProtocol, config.ProtocolSocket).
		Set(config.SocketAcceptPort, "0")
	acc := s.start(RoleAcceptor, settings, &testApp{})

	endpoints := acc.Endpoints()
	s.Require().Len(endpoints, 1)
	s.Require().True(endpoints[0].Bound)
	_, port, err := net.SplitHostPort(endpoints[0].Address)
	s.Require().NoError(err)
	s.NotEqual("0", port)

	iniSettings := initiatorSettings("127.0.0.1", "BANZAI")
	iniSettings.Defaults().
		Set(config.SocketConnectProtocol, config.ProtocolSocket).
		Set(config.SocketConnectPort, port)
	ini := s.start(RoleInitiator, iniSettings, &testApp{})

	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("BANZAI")) && s.loggedOn(ini, initiatorID("BANZAI"))
	}, waitFor, tick)
}

func (s *ConnectorSuite) TestSingleThreadedUsesOneProcessor() {
	host := pipeHost()
	tracker := strategy.NewCountingTracker()
	acc := s.start(RoleAcceptor, acceptorSettings(host, "A", "B"), &testApp{},
		WithStrategy(strategy.ModeSingleThreaded, strategy.WithTracker(tracker)))
	s.Equal(1, tracker.Live())
	s.Equal([]string{strategy.ProcessorName}, tracker.Names())

	ini := s.start(RoleInitiator, initiatorSettings(host, "A", "B"), &testApp{})
	s.Eventually(func() bool {
		return s.loggedOn(ini, initiatorID("A"), initiatorID("B"))
	}, waitFor, tick)
	s.Equal(1, tracker.Live())

	acc.Stop(true)
	s.Zero(tracker.Live())

	s.Require().NoError(acc.Start())
	s.Equal(1, tracker.Live())
	acc.Stop(true)
	s.Zero(tracker.Live())
}

func (s *ConnectorSuite) TestThreadedUsesProcessorPerConnectedSession() {
	host := pipeHost()
	tracker := strategy.NewCountingTracker()
	acc := s.start(RoleAcceptor, acceptorSettings(host, "A", "B", "C"), &testApp{},
		WithStrategy(strategy.ModeThreaded, strategy.WithTracker(tracker)))
	s.Zero(tracker.Live())

	ini := s.start(RoleInitiator, initiatorSettings(host, "A", "B"), &testApp{})
	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("A"), acceptorID("B"))
	}, waitFor, tick)
	s.Eventually(func() bool { return tracker.Live() == 2 }, waitFor, tick)
	s.Equal([]string{
		strategy.ProcessorName + "-" + acceptorID("A").String(),
		strategy.ProcessorName + "-" + acceptorID("B").String(),
	}, tracker.Names())

	ini.Stop(false)
	s.Eventually(func() bool { return tracker.Live() == 0 }, waitFor, tick)
	acc.Stop(true)
	s.Zero(tracker.Live())
}

func (s *ConnectorSuite) TestContinueOnErrorIsolatesFailures() {
	host := pipeHost()
	settings := acceptorSettings(host)
	settings.Defaults().Set(config.ContinueInitializationOnError, "Y")
	settings.AddSession(config.NewDictionary("valid").Set(config.TargetCompID, "BANZAI"))
	settings.AddSession(config.NewDictionary("bad-protocol").
		Set(config.TargetCompID, "UDP").
		Set(config.SocketAcceptProtocol, "foobar"))
	settings.AddSession(config.NewDictionary("bad-keystore").
		Set(config.TargetCompID, "SECURE").
		Set(config.SocketAcceptHost, host+"-tls").
		Set(config.SocketUseSSL, "Y").
		Set(config.SocketKeyStore, filepath.Join(s.T().TempDir(), "missing.p12")).
		Set(config.SocketKeyStorePassword, "secret"))

	acc := s.start(RoleAcceptor, settings, &testApp{})
	s.True(acc.IsRunning())
	s.Equal([]session.SessionID{acceptorID("BANZAI"), acceptorID("SECURE")}, acc.Sessions())
	s.Equal(2, acc.Registry().Count())
	_, ok := acc.Registry().Get(acceptorID("UDP"))
	s.False(ok)

	endpoints := acc.Endpoints()
	s.Require().Len(endpoints, 2)
	s.True(endpoints[0].Bound)
	s.NoError(endpoints[0].Err)
	s.False(endpoints[1].Bound)
	s.False(endpoints[1].CodecInstalled)
	s.True(endpoints[1].Secure)
	s.ErrorIs(endpoints[1].Err, merr.ErrConfigKeyStore)

	ini := s.start(RoleInitiator, initiatorSettings(host, "BANZAI"), &testApp{})
	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("BANZAI")) && s.loggedOn(ini, initiatorID("BANZAI"))
	}, waitFor, tick)
	s.False(s.loggedOn(acc, acceptorID("SECURE")))
}

func (s *ConnectorSuite) TestStrictStartRollsBack() {
	host := pipeHost()
	settings := acceptorSettings(host, "BANZAI")
	settings.AddSession(config.NewDictionary("bad-protocol").
		Set(config.TargetCompID, "UDP").
		Set(config.SocketAcceptProtocol, "foobar"))

	acc := s.newConnector(RoleAcceptor, settings, &testApp{})
	s.ErrorIs(acc.Start(), merr.ErrConfigUnknownProtocol)
	s.False(acc.IsRunning())
	s.Zero(acc.Registry().Count())
	s.Empty(acc.Endpoints())

	// 已绑定的端点随回滚一起关闭。
	tr, err := transport.New(config.ProtocolVMPipe, nil)
	s.Require().NoError(err)
	l, err := tr.Listen(context.Background(), net.JoinHostPort(host, "9880"))
	s.Require().NoError(err)
	s.NoError(l.Close())
}

func (s *ConnectorSuite) TestConfigurationErrors() {
	cases := []struct {
		name     string
		settings func(host string) *config.Settings
		role     Role
		want     error
	}{
		{
			name: "duplicate session",
			settings: func(host string) *config.Settings {
				return acceptorSettings(host, "A", "A")
			},
			role: RoleAcceptor,
			want: merr.ErrConfigDuplicateSession,
		},
		{
			name: "connection type mismatch",
			settings: func(host string) *config.Settings {
				return initiatorSettings(host, "A")
			},
			role: RoleAcceptor,
			want: merr.ErrConfigInvalid,
		},
		{
			name: "template on initiator",
			settings: func(host string) *config.Settings {
				settings := initiatorSettings(host, "A")
				settings.Defaults().Set(config.AcceptorTemplate, "Y")
				return settings
			},
			role: RoleInitiator,
			want: merr.ErrConfigInvalid,
		},
		{
			name: "missing connect host",
			settings: func(string) *config.Settings {
				return initiatorSettings("", "A")
			},
			role: RoleInitiator,
			want: merr.ErrConfigMissing,
		},
		{
			name: "port out of range",
			settings: func(host string) *config.Settings {
				settings := acceptorSettings(host, "A")
				settings.Defaults().Set(config.SocketAcceptPort, "70000")
				return settings
			},
			role: RoleAcceptor,
			want: merr.ErrConfigInvalid,
		},
		{
			name: "outbound queue size",
			settings: func(host string) *config.Settings {
				settings := acceptorSettings(host, "A")
				settings.Defaults().Set(config.OutboundQueueSize, "0")
				return settings
			},
			role: RoleAcceptor,
			want: merr.ErrConfigInvalid,
		},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			c := s.newConnector(tc.role, tc.settings(pipeHost()), &testApp{})
			s.ErrorIs(c.Start(), tc.want)
			s.False(c.IsRunning())
			s.Zero(c.Registry().Count())
		})
	}
}

func (s *ConnectorSuite) TestTemplateCreatesSessionOnLogon() {
	host := pipeHost()
	settings := acceptorSettings(host)
	settings.AddSession(config.NewDictionary("template").
		Set(config.TargetCompID, session.Wildcard).
		Set(config.AcceptorTemplate, "Y"))
	acc := s.start(RoleAcceptor, settings, &testApp{})
	s.Empty(acc.Sessions())
	s.Zero(acc.Registry().Count())
	s.Require().Len(acc.Endpoints(), 1)
	s.Equal([]session.SessionID{acceptorID(session.Wildcard)}, acc.Endpoints()[0].Templates)

	ini := s.start(RoleInitiator, initiatorSettings(host, "CLIENT7", "CLIENT8"), &testApp{})
	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("CLIENT7"), acceptorID("CLIENT8")) &&
			s.loggedOn(ini, initiatorID("CLIENT7"), initiatorID("CLIENT8"))
	}, waitFor, tick)
	s.ElementsMatch([]session.SessionID{acceptorID("CLIENT7"), acceptorID("CLIENT8")}, acc.Sessions())
	s.Equal(2, acc.Registry().Count())

	ini.Stop(false)
	acc.Stop(true)
	s.Zero(acc.Registry().Count())
	s.Empty(acc.Sessions())
}

func (s *ConnectorSuite) TestUnknownSessionIsRejected() {
	host := pipeHost()
	acc := s.start(RoleAcceptor, acceptorSettings(host, "BANZAI"), &testApp{})
	ini := s.start(RoleInitiator, initiatorSettings(host, "STRANGER"), &testApp{})

	s.Never(func() bool { return ini.IsLoggedOn() }, 300*time.Millisecond, 20*time.Millisecond)
	s.Equal([]session.SessionID{acceptorID("BANZAI")}, acc.Sessions())
	s.False(acc.IsLoggedOn())
}

func (s *ConnectorSuite) TestSharedRegistry() {
	host := pipeHost()
	registry := session.NewRegistry()
	acc := s.start(RoleAcceptor, acceptorSettings(host, "BANZAI"), &testApp{}, WithRegistry(registry))
	ini := s.start(RoleInitiator, initiatorSettings(host, "BANZAI"), &testApp{}, WithRegistry(registry))
	s.Equal(2, registry.Count())

	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("BANZAI")) && s.loggedOn(ini, initiatorID("BANZAI"))
	}, waitFor, tick)

	ini.Stop(false)
	s.Equal(1, registry.Count())
	_, ok := registry.Get(acceptorID("BANZAI"))
	s.True(ok)
}

// peerFrame 编码一条由 sender 发往 EXEC 的消息。
func (s *ConnectorSuite) peerFrame(msgType, sender string, seq int, fill func(m *fix.Message)) []byte {
	m := fix.NewMessage(msgType)
	m.Header.Set(fix.TagBeginString, fix.BeginStringFIX42)
	m.Header.Set(fix.TagSenderCompID, sender)
	m.Header.Set(fix.TagTargetCompID, "EXEC")
	m.Header.SetInt(fix.TagMsgSeqNum, seq)
	m.Header.SetTime(fix.TagSendingTime, time.Now().UTC())
	if fill != nil {
		fill(m)
	}
	raw, err := codec.Default().Encode(m)
	s.Require().NoError(err)
	return raw
}

func (s *ConnectorSuite) TestRoutingUsesRegistry() {
	host := pipeHost()
	registry := session.NewRegistry()
	acc := s.start(RoleAcceptor, acceptorSettings(host, "A", "B"), &testApp{}, WithRegistry(registry))
	s.Require().NoError(registry.Unregister(acceptorID("B")))

	ini := s.start(RoleInitiator, initiatorSettings(host, "A", "B"), &testApp{})
	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("A")) && s.loggedOn(ini, initiatorID("A"))
	}, waitFor, tick)
	s.Never(func() bool { return s.loggedOn(ini, initiatorID("B")) }, 300*time.Millisecond, 20*time.Millisecond)

	sess, ok := acc.Session(acceptorID("B"))
	s.Require().True(ok)
	s.False(sess.IsConnected())
}

func (s *ConnectorSuite) TestForceStopClosesConnectionsAwaitingLogon() {
	settings := acceptorSettings("127.0.0.1", "BANZAI")
	settings.Defaults().
		Set(config.SocketAcceptProtocol, config.ProtocolSocket).
		Set(config.SocketAcceptPort, "0").
		Set(config.LogonTimeout, "10")
	acc := s.start(RoleAcceptor, settings, &testApp{})
	endpoints := acc.Endpoints()
	s.Require().Len(endpoints, 1)

	// 建立连接后不发送 Logon。
	idle, err := net.Dial("tcp", endpoints[0].Address)
	s.Require().NoError(err)
	defer idle.Close()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	acc.Stop(true)
	s.Less(time.Since(start), time.Second)

	s.NoError(idle.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = idle.Read(make([]byte, 1))
	s.Error(err)
	var ne net.Error
	s.False(errors.As(err, &ne) && ne.Timeout(), "connection should be closed by the acceptor")
}

func (s *ConnectorSuite) TestStalledPeerDoesNotBlockOtherSessions() {
	host := pipeHost()
	settings := acceptorSettings(host, "A", "B")
	settings.Defaults().Set(config.OutboundQueueSize, "1")
	app := &testApp{}
	acc := s.start(RoleAcceptor, settings, app,
		WithStrategy(strategy.ModeSingleThreaded), WithWriteTimeout(100*time.Millisecond))

	frames := [][]byte{s.peerFrame(fix.MsgTypeLogon, "A", 1, func(m *fix.Message) {
		m.Body.Set(fix.TagEncryptMethod, "0")
		m.Body.Set(fix.TagHeartBtInt, "30")
	})}
	for seq := 2; seq <= 5; seq++ {
		frames = append(frames, s.peerFrame(fix.MsgTypeTestRequest, "A", seq, func(m *fix.Message) {
			m.Body.Set(fix.TagTestReqID, fmt.Sprint(seq))
		}))
	}
	tr, err := transport.New(config.ProtocolVMPipe, nil)
	s.Require().NoError(err)
	stalled, err := tr.Dial(context.Background(), net.JoinHostPort(host, "9880"))
	s.Require().NoError(err)
	defer stalled.Close()
	// 对端只写不读，每条 TestRequest 都需要一条 Heartbeat 应答，写队列很快被占满。
	_ = conc.Go(func() (struct{}, error) {
		for _, frame := range frames {
			if _, err := stalled.Write(frame); err != nil {
				return struct{}{}, err
			}
		}
		return struct{}{}, nil
	})
	s.Eventually(func() bool { return app.logons.Load() >= 1 }, waitFor, tick)

	ini := s.start(RoleInitiator, initiatorSettings(host, "B"), &testApp{})
	s.Eventually(func() bool {
		return s.loggedOn(acc, acceptorID("B")) && s.loggedOn(ini, initiatorID("B"))
	}, waitFor, tick)
	s.Eventually(func() bool {
		sess, ok := acc.Session(acceptorID("A"))
		return ok && !sess.IsConnected()
	}, waitFor, tick)
}

func TestConnector(t *testing.T) {
	suite.Run(t, new(ConnectorSuite))
}
