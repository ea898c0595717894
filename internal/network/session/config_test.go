package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

func TestConfigFromSettingsDefaults(t *testing.T) {
	cfg, err := ConfigFromSettings(config.NewDictionary("s"))
	require.NoError(t, err)
	assert.False(t, cfg.Initiator)
	assert.Equal(t, DefaultHeartBtInt, cfg.HeartBtInt)
	assert.Equal(t, DefaultHeartBeatTolerance, cfg.HeartBeatTolerance)
	assert.Equal(t, DefaultMaxResendRetries, cfg.MaxResendRetries)
	assert.True(t, cfg.PersistMessages)
	assert.True(t, cfg.Schedule.IsNonStop())
}

func TestConfigFromSettingsOverrides(t *testing.T) {
	d := config.NewDictionary("s").
		Set(config.ConnectionType, config.ConnectionTypeInitiator).
		Set(config.HeartBtInt, "5").
		Set(config.HeartBeatTolerance, "2").
		Set(config.LogoutTimeout, "0.5").
		Set(config.MaxResendRetries, "7").
		Set(config.PersistMessages, "N").
		Set(config.ResetOnLogon, "Y").
		Set(config.StartTime, "08:00:00").
		Set(config.EndTime, "18:00:00")
	cfg, err := ConfigFromSettings(d)
	require.NoError(t, err)
	assert.True(t, cfg.Initiator)
	assert.Equal(t, 5*time.Second, cfg.HeartBtInt)
	assert.Equal(t, 2.0, cfg.HeartBeatTolerance)
	assert.Equal(t, 500*time.Millisecond, cfg.LogoutTimeout)
	assert.Equal(t, 7, cfg.MaxResendRetries)
	assert.False(t, cfg.PersistMessages)
	assert.True(t, cfg.ResetOnLogon)
	assert.False(t, cfg.Schedule.IsNonStop())
}

func TestConfigFromSettingsInvalid(t *testing.T) {
	_, err := ConfigFromSettings(config.NewDictionary("s").Set(config.HeartBtInt, "soon"))
	assert.ErrorIs(t, err, merr.ErrConfigInvalid)

	_, err = ConfigFromSettings(config.NewDictionary("s").Set(config.ResetOnLogout, "maybe"))
	assert.ErrorIs(t, err, merr.ErrConfigInvalid)
}
