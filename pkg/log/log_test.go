package log

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uber/jaeger-client-go/utils"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type bufferSyncer struct {
	bytes.Buffer
}

func (b *bufferSyncer) Sync() error { return nil }

type stringer string

func (s stringer) String() string { return string(s) }

func TestInitLoggerWithWriteSyncerJSON(t *testing.T) {
	buf := &bufferSyncer{}
	lg, props, err := InitLoggerWithWriteSyncer(&Config{Level: "info", Format: FormatJSON, DisableCaller: true}, buf)
	require.NoError(t, err)
	require.NotNil(t, props)

	lg.Debug("hidden")
	lg.Info("logon", FieldSession(stringer("FIX.4.2:A->B")), FieldSeqNum(1))
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"session":"FIX.4.2:A->B"`)
	assert.Contains(t, out, `"seqNum":1`)
}

func TestInitLoggerWithWriteSyncerBadLevel(t *testing.T) {
	_, _, err := InitLoggerWithWriteSyncer(&Config{Level: "loud"}, &bufferSyncer{})
	assert.Error(t, err)
}

func TestCtxFields(t *testing.T) {
	buf := &bufferSyncer{}
	lg, _, err := InitLoggerWithWriteSyncer(&Config{Level: "debug", Format: FormatConsole}, buf)
	require.NoError(t, err)

	ctx := context.WithValue(context.Background(), CtxLogKey, &MLogger{Logger: lg})
	ctx = WithModule(ctx, "connector")
	ctx = WithSession(ctx, stringer("FIX.4.4:X->Y"))
	Ctx(ctx).Info("started")
	assert.Contains(t, buf.String(), "connector")
	assert.Contains(t, buf.String(), "FIX.4.4:X->Y")
	assert.NotNil(t, Ctx(nil))
}

func TestRatedLogging(t *testing.T) {
	core, _ := newObservedCore()
	l := &MLogger{Logger: zap.New(core)}
	l.WithRateGroup("test.framing", 0.0001, 1)
	assert.True(t, l.RatedWarn(1, "first"))
	assert.False(t, l.RatedWarn(1, "second"))
}

func TestBinderFallsBackToGlobal(t *testing.T) {
	var b Binder
	assert.NotNil(t, b.Logger())
	custom := With(zap.String("k", "v"))
	b.SetLogger(custom)
	assert.Same(t, custom, b.Logger())
}

func TestSetRateLimit(t *testing.T) {
	defer SetRateLimit(0, 0)
	assert.NotPanics(t, func() {
		SetRateLimit(0, 0)
		assert.IsType(t, nopRateLimiter{}, R())
		SetRateLimit(1, 1)
		assert.IsType(t, &utils.ReconfigurableRateLimiter{}, R())
		SetRateLimit(0, 0)
		assert.IsType(t, nopRateLimiter{}, R())
	})
}

func TestRateLimiterFromEnv(t *testing.T) {
	defer SetRateLimit(0, 0)
	t.Setenv("FIX_LOG_RATE_ENABLE", "1")
	t.Setenv("FIX_LOG_RATE_CREDIT_PER_SECOND", "0.0001")
	t.Setenv("FIX_LOG_RATE_MAX_BALANCE", "1")
	assert.NotPanics(t, configureRateLimiterFromEnv)
	assert.True(t, R().CheckCredit(1))
	assert.False(t, R().CheckCredit(1))

	t.Setenv("FIX_LOG_RATE_ENABLE", "0")
	assert.NotPanics(t, configureRateLimiterFromEnv)
	assert.IsType(t, nopRateLimiter{}, R())
}

func newObservedCore() (zapcore.Core, *bufferSyncer) {
	buf := &bufferSyncer{}
	return zapcore.NewCore(newEncoder(&Config{}), buf, zapcore.DebugLevel), buf
}
