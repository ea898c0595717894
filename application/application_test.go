package application

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"github.com/lk2023060901/fixgarden-go/internal/network/connector"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/internal/network/strategy"
)

const testConfig = `
engine:
  strategy: threaded
  tick-interval: 200ms
  write-timeout: 2s
default:
  ConnectionType: acceptor
  BeginString: FIX.4.2
  SenderCompID: EXEC
  SocketAcceptProtocol: VM_PIPE
  SocketAcceptHost: application-test
  SocketAcceptPort: 9880
sessions:
  - TargetCompID: BANZAI
  - TargetCompID: OTHER
logging:
  acceptor:
    level: debug
`

type ApplicationSuite struct {
	suite.Suite
	path string
}

func (s *ApplicationSuite) SetupTest() {
	s.path = filepath.Join(s.T().TempDir(), "fixengine.yaml")
	s.Require().NoError(os.WriteFile(s.path, []byte(testConfig), 0o600))
	s.T().Setenv("FIX_LOG_STDOUT", "false")
}

func (s *ApplicationSuite) TestResolveConfigPath() {
	s.T().Setenv(EnvConfigPath, "")
	s.Equal(DefaultConfigPath, resolveConfigPath(""))
	s.T().Setenv(EnvConfigPath, "/etc/fix/env.yaml")
	s.Equal("/etc/fix/env.yaml", resolveConfigPath(""))
	s.Equal("explicit.yaml", resolveConfigPath("explicit.yaml"))
}

func (s *ApplicationSuite) TestLoad() {
	app := New(s.path)
	s.Require().NoError(app.Load())
	s.Equal(s.path, app.Path())
	s.Equal(2, app.Settings().Len())

	engine := app.Engine()
	s.Equal(strategy.ModeThreaded, engine.Strategy)
	s.Equal(200*time.Millisecond, engine.TickInterval)
	s.Equal(2*time.Second, engine.WriteTimeout)
	s.Empty(engine.MetricsAddr)

	s.NotNil(app.Logger("acceptor"))
	s.NotNil(app.Logger("unknown"))
}

func (s *ApplicationSuite) TestLoadMissingFile() {
	app := New(filepath.Join(s.T().TempDir(), "missing.yaml"))
	s.Error(app.Load())

	_, err := New("").NewConnector(connector.RoleAcceptor, session.ApplicationAdapter{})
	s.Error(err)
}

func (s *ApplicationSuite) TestRunStartsAndStopsConnector() {
	app := New(s.path)
	s.Require().NoError(app.Load())
	c, err := app.NewConnector(connector.RoleAcceptor, session.ApplicationAdapter{})
	s.Require().NoError(err)
	s.Equal(strategy.ModeThreaded, c.Strategy().Mode())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- app.Run(ctx, c)
	}()
	s.Eventually(c.IsRunning, 5*time.Second, 10*time.Millisecond)
	s.Equal(2, c.Registry().Count())

	cancel()
	select {
	case err := <-done:
		s.NoError(err)
	case <-time.After(5 * time.Second):
		s.Fail("Run did not return after cancel")
	}
	s.False(c.IsRunning())
	s.Zero(c.Registry().Count())
}

func TestApplication(t *testing.T) {
	suite.Run(t, new(ApplicationSuite))
}
