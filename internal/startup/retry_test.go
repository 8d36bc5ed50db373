package startup

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsImmediately(t *testing.T) {
	calls := 0
	err := retry("noop", time.Second, "", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetry_GivesUpAfterDeadline(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	err := retry("db connect", -time.Second, "", func() error {
		calls++
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "gave up")
	assert.Equal(t, 1, calls)
}
