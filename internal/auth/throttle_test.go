package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_AllowMove(t *testing.T) {
	th := NewThrottle(3, 10)

	for i := range 3 {
		assert.True(t, th.AllowMove("1"), "move %d", i)
	}
	assert.False(t, th.AllowMove("1"), "burst exhausted")
	assert.True(t, th.AllowMove("2"), "limits are per user")
}

func TestThrottle_AllowChat(t *testing.T) {
	th := NewThrottle(20, 2)

	assert.True(t, th.AllowChat("1"))
	assert.True(t, th.AllowChat("1"))
	assert.False(t, th.AllowChat("1"))

	// chat and move buckets are independent
	assert.True(t, th.AllowMove("1"))
}

func TestThrottle_Refill(t *testing.T) {
	th := NewThrottle(100, 10)

	for th.AllowMove("1") {
	}
	assert.Eventually(t, func() bool { return th.AllowMove("1") }, time.Second, 5*time.Millisecond)
}

func TestThrottle_SweepForget(t *testing.T) {
	th := NewThrottle(0, 0)
	th.AllowMove("1")
	th.AllowChat("1")
	th.AllowMove("2")
	assert.Equal(t, 3, th.Len())

	th.Forget("1")
	assert.Equal(t, 1, th.Len())

	assert.Equal(t, 0, th.Sweep(time.Hour))
	assert.Equal(t, 1, th.Sweep(-time.Second))
	assert.Equal(t, 0, th.Len())
}

func TestThrottle_Run(t *testing.T) {
	th := NewThrottle(0, 0)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- th.Run(ctx, time.Millisecond) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
