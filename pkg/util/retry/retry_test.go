package retry

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestDoSucceedsAfterRetries(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		if count < 3 {
			return errors.New("not yet")
		}
		return nil
	}, Attempts(5), Sleep(time.Millisecond))
	assert.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestDoReachesMaxAttempts(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return errors.New("always")
	}, Attempts(3), Sleep(time.Millisecond))
	assert.Error(t, err)
	assert.Equal(t, 3, count)
}

func TestDoUnrecoverable(t *testing.T) {
	errFatal := errors.New("fatal")
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return Unrecoverable(errFatal)
	}, Attempts(5), Sleep(time.Millisecond))
	assert.ErrorIs(t, err, errFatal)
	assert.False(t, IsRecoverable(err))
	assert.Equal(t, 1, count)
}

func TestDoRetryErrPredicate(t *testing.T) {
	count := 0
	err := Do(context.Background(), func() error {
		count++
		return errors.New("stop")
	}, Attempts(5), Sleep(time.Millisecond), RetryErr(func(error) bool { return false }))
	assert.Error(t, err)
	assert.Equal(t, 1, count)
}

func TestDoCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
