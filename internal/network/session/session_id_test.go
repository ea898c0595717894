package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/fixgarden-go/internal/config"
	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

func TestSessionIDString(t *testing.T) {
	id := SessionID{BeginString: "FIX.4.2", SenderCompID: "S", TargetCompID: "T"}
	assert.Equal(t, "FIX.4.2:S->T", id.String())

	id.SenderSubID = "desk"
	id.Qualifier = "q1"
	assert.Equal(t, "FIX.4.2:S/desk->T:q1", id.String())
}

func TestSessionIDReverse(t *testing.T) {
	id := SessionID{BeginString: "FIX.4.4", SenderCompID: "S", SenderSubID: "ss", TargetCompID: "T", TargetLocationID: "NY"}
	rev := id.Reverse()
	assert.Equal(t, "T", rev.SenderCompID)
	assert.Equal(t, "NY", rev.SenderLocationID)
	assert.Equal(t, "S", rev.TargetCompID)
	assert.Equal(t, "ss", rev.TargetSubID)
	assert.Equal(t, id, rev.Reverse())
}

func TestSessionIDTemplateMatch(t *testing.T) {
	tmpl := SessionID{BeginString: "FIX.4.2", SenderCompID: "ACC", TargetCompID: Wildcard}
	assert.True(t, tmpl.IsWildcard())

	concrete := SessionID{BeginString: "FIX.4.2", SenderCompID: "ACC", TargetCompID: "CLIENT7"}
	assert.False(t, concrete.IsWildcard())
	assert.True(t, tmpl.Matches(concrete))
	assert.False(t, tmpl.Matches(SessionID{BeginString: "FIX.4.4", SenderCompID: "ACC", TargetCompID: "CLIENT7"}))
	assert.Equal(t, concrete, tmpl.Resolve(concrete))
}

func TestInboundSessionID(t *testing.T) {
	msg := fix.NewMessage(fix.MsgTypeLogon)
	msg.Header.Set(fix.TagBeginString, "FIX.4.2")
	msg.Header.Set(fix.TagSenderCompID, "CLIENT")
	msg.Header.Set(fix.TagTargetCompID, "SERVER")
	msg.Header.Set(fix.TagSenderSubID, "trader")

	id := InboundSessionID(msg)
	assert.Equal(t, SessionID{
		BeginString:  "FIX.4.2",
		SenderCompID: "SERVER",
		TargetCompID: "CLIENT",
		TargetSubID:  "trader",
	}, id)
}

func TestSessionIDFromSettings(t *testing.T) {
	d := config.NewDictionary("session 1").
		Set(config.BeginString, "FIX.4.2").
		Set(config.SenderCompID, "ACC").
		Set(config.TargetCompID, "INIT").
		Set(config.SessionQualifier, "primary")
	id, err := SessionIDFromSettings(d)
	require.NoError(t, err)
	assert.Equal(t, "FIX.4.2:ACC->INIT:primary", id.String())

	_, err = SessionIDFromSettings(config.NewDictionary("session 2").Set(config.BeginString, "FIX.4.2"))
	assert.ErrorIs(t, err, merr.ErrConfigMissing)
}
