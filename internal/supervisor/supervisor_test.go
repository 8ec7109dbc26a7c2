package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNoteSampleTransitionsStartingToReceiving(t *testing.T) {
	c := NewChannel("wwv-10mhz", nil, nil)
	require.Equal(t, StateStarting, c.EvaluateHealth(time.Now()).State)

	c.NoteSample(time.Now())
	require.Equal(t, StateReceiving, c.EvaluateHealth(time.Now()).State)
}

func TestEvaluateHealthTransitionsToStalledAfterGrace(t *testing.T) {
	c := NewChannel("wwv-10mhz", nil, nil)
	c.GracePeriod = 10 * time.Millisecond

	now := time.Now()
	c.NoteSample(now)
	require.Equal(t, StateReceiving, c.EvaluateHealth(now).State)

	later := now.Add(50 * time.Millisecond)
	h := c.EvaluateHealth(later)
	require.Equal(t, StateStalled, h.State)
	require.Equal(t, HealthRed, h.Colour)
}

func TestEvaluateHealthYellowBeforeGraceExceeded(t *testing.T) {
	c := NewChannel("wwv-10mhz", nil, nil)
	c.YellowThreshold = 5 * time.Millisecond
	c.GracePeriod = time.Hour

	now := time.Now()
	c.NoteSample(now)

	h := c.EvaluateHealth(now.Add(20 * time.Millisecond))
	require.Equal(t, HealthYellow, h.Colour)
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	c := NewChannel("wwv-10mhz", nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.NoError(t, err)
	require.Equal(t, StateStopped, c.EvaluateHealth(time.Now()).State)
}

func TestRunRestartsAndRespectsBound(t *testing.T) {
	c := NewChannel("wwv-10mhz", nil, nil)
	c.MaxRestartsPerHour = 2
	c.InitialRetryDelay = time.Millisecond
	c.MaxRetryDelay = 2 * time.Millisecond

	var calls int32
	ctx := context.Background()

	err := c.Run(ctx, func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("boom")
	})

	require.Error(t, err)
	require.Equal(t, StateFailed, c.EvaluateHealth(time.Now()).State)
	// Initial attempt + 2 bounded restarts = 3 calls before the bound trips.
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}
