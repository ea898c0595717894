package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/fixgarden-go/internal/fix"
	"github.com/lk2023060901/fixgarden-go/internal/network/session"
	"github.com/lk2023060901/fixgarden-go/pkg/util/merr"
)

var testID = session.SessionID{BeginString: fix.BeginStringFIX42, SenderCompID: "EXEC", TargetCompID: "BANZAI"}

func newOrder(beginString string) *fix.Message {
	msg := fix.NewMessage(fix.MsgTypeNewOrderSingle)
	msg.Header.Set(fix.TagBeginString, beginString)
	return msg
}

func TestRouteExactBeforeAny(t *testing.T) {
	r := New()
	var got []string
	require.NoError(t, r.Register(AnyBeginString, fix.MsgTypeNewOrderSingle, func(*fix.Message, session.SessionID) error {
		got = append(got, "any")
		return nil
	}))
	require.NoError(t, r.Register(fix.BeginStringFIX42, fix.MsgTypeNewOrderSingle, func(_ *fix.Message, id session.SessionID) error {
		assert.Equal(t, testID, id)
		got = append(got, "fix42")
		return nil
	}))
	assert.Equal(t, 2, r.Len())

	require.NoError(t, r.Route(newOrder(fix.BeginStringFIX42), testID))
	require.NoError(t, r.Route(newOrder("FIX.4.4"), testID))
	assert.Equal(t, []string{"fix42", "any"}, got)
}

func TestRouteUnsupported(t *testing.T) {
	r := New()
	err := r.Route(newOrder(fix.BeginStringFIX42), testID)
	assert.ErrorIs(t, err, merr.ErrUnsupportedMessageType)
	assert.Error(t, r.Route(nil, testID))
}

func TestRouteHandlerError(t *testing.T) {
	r := New()
	r.MustRegister(AnyBeginString, fix.MsgTypeNewOrderSingle, func(*fix.Message, session.SessionID) error {
		return merr.WrapErrFieldNotFound(int(fix.TagSymbol))
	})
	err := r.Route(newOrder(fix.BeginStringFIX42), testID)
	assert.ErrorIs(t, err, merr.ErrFieldNotFound)
}

func TestRegisterValidation(t *testing.T) {
	r := New()
	noop := func(*fix.Message, session.SessionID) error { return nil }

	assert.Error(t, r.Register(AnyBeginString, "", noop))
	assert.Error(t, r.Register(AnyBeginString, fix.MsgTypeLogon, noop))
	assert.Error(t, r.Register(AnyBeginString, fix.MsgTypeNewOrderSingle, nil))
	require.NoError(t, r.Register(AnyBeginString, fix.MsgTypeNewOrderSingle, noop))
	assert.Error(t, r.Register(AnyBeginString, fix.MsgTypeNewOrderSingle, noop))
	assert.Panics(t, func() {
		r.MustRegister(AnyBeginString, fix.MsgTypeNewOrderSingle, noop)
	})
	assert.NoError(t, r.Register(fix.BeginStringFIX42, fix.MsgTypeNewOrderSingle, noop))
}
