package viper

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
logging:
  level: warn
default:
  HeartBtInt: 30
sessions:
  - SenderCompID: A
`

func TestLoadReader(t *testing.T) {
	c := New()
	require.NoError(t, c.LoadReader(strings.NewReader(sample), "yaml"))
	assert.True(t, c.IsSet("logging"))
	assert.False(t, c.IsSet("missing"))

	var def map[string]any
	require.NoError(t, c.UnmarshalKey("default", &def))
	assert.EqualValues(t, 30, def["heartbtint"])

	var sessions []map[string]any
	require.NoError(t, c.UnmarshalKey("sessions", &sessions))
	require.Len(t, sessions, 1)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	c := New()
	require.NoError(t, c.LoadFile(path))
	var out struct {
		Logging struct {
			Level string `mapstructure:"level"`
		} `mapstructure:"logging"`
	}
	require.NoError(t, c.Unmarshal(&out))
	assert.Equal(t, "warn", out.Logging.Level)

	assert.Error(t, New().LoadFile(filepath.Join(t.TempDir(), "missing.yaml")))
}
