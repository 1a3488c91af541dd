package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoordinatorBreakerConfig(t *testing.T) {
	t.Run("DerivedFromHeartbeatInterval", func(t *testing.T) {
		cfg := CoordinatorBreakerConfig(5 * time.Second)
		assert.Equal(t, 5*time.Second, cfg.ProbeInterval)
	})

	t.Run("DefaultsToTenSeconds", func(t *testing.T) {
		cfg := CoordinatorBreakerConfig(0)
		assert.Equal(t, 10*time.Second, cfg.ProbeInterval)
	})
}

func TestBreakerTripsToUnavailable(t *testing.T) {
	cfg := CoordinatorBreakerConfig(time.Second)
	cfg.MinRequests = 3
	b := NewBreaker(cfg)

	boom := errors.New("connection refused")
	fail := func(context.Context) (interface{}, error) { return nil, boom }

	for i := 0; i < 3; i++ {
		_, err := b.Execute(context.Background(), fail)
		require.ErrorIs(t, err, boom)
	}

	_, err := b.Execute(context.Background(), fail)
	assert.ErrorIs(t, err, ErrCoordinatorUnavailable)
	assert.False(t, b.Available())
}

func TestBreakerPassesSuccess(t *testing.T) {
	b := NewBreaker(CoordinatorBreakerConfig(time.Second))

	out, err := b.Execute(context.Background(), func(context.Context) (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.True(t, b.Available())
}

func TestBreakerRespectsContext(t *testing.T) {
	b := NewBreaker(CoordinatorBreakerConfig(time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := b.Execute(ctx, func(context.Context) (interface{}, error) {
		t.Fatal("fn must not run with a done context")
		return nil, nil
	})
	assert.ErrorIs(t, err, context.Canceled)
}
