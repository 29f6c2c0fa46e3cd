package project

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActor_RunsInOrder(t *testing.T) {
	a := newActor()
	defer a.stop()

	var got []int
	for i := 0; i < 100; i++ {
		i := i
		a.post(func() { got = append(got, i) })
	}
	require.NoError(t, a.waitIdle(context.Background()))
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestActor_WaitIdleCoversHeldWork(t *testing.T) {
	a := newActor()
	defer a.stop()

	var mu sync.Mutex
	done := false
	a.hold()
	go func() {
		time.Sleep(20 * time.Millisecond)
		a.post(func() {
			mu.Lock()
			done = true
			mu.Unlock()
		})
		a.release()
	}()

	require.NoError(t, a.waitIdle(context.Background()))
	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done)
	assert.True(t, a.idle())
}

func TestActor_CallAfterStop(t *testing.T) {
	a := newActor()
	require.NoError(t, a.call(context.Background(), func() {}))

	a.stop()
	a.stop()
	assert.ErrorIs(t, a.call(context.Background(), func() {}), ErrDisposed)
	assert.False(t, a.post(func() {}))
}

func TestActor_CallHonoursContext(t *testing.T) {
	a := newActor()
	defer a.stop()

	block := make(chan struct{})
	a.post(func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, a.call(ctx, func() {}), context.DeadlineExceeded)
	close(block)
}

func TestActor_StopDrainsQueue(t *testing.T) {
	a := newActor()
	ran := make(chan struct{}, 3)
	for i := 0; i < 3; i++ {
		a.post(func() { ran <- struct{}{} })
	}
	a.stop()
	assert.Len(t, ran, 3)
}
