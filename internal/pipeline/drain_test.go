package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDrainAfterCancel_FiresAfterTimeout(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var fired atomic.Bool
	stop := drainAfterCancel(ctx, 10*time.Millisecond, func() { fired.Store(true) })
	defer stop()

	cancel()
	assert.Eventually(t, fired.Load, time.Second, 5*time.Millisecond)
}

func TestDrainAfterCancel_StopDisarmsPendingTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var fired atomic.Bool
	stop := drainAfterCancel(ctx, 50*time.Millisecond, func() { fired.Store(true) })

	cancel()
	stop()

	time.Sleep(150 * time.Millisecond)
	assert.False(t, fired.Load())
}

func TestDrainAfterCancel_NeverCancelled(t *testing.T) {
	var fired atomic.Bool
	stop := drainAfterCancel(context.Background(), time.Millisecond, func() { fired.Store(true) })
	stop()

	time.Sleep(20 * time.Millisecond)
	assert.False(t, fired.Load())
}
