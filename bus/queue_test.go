package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue()
	for i := range 5 {
		require.True(t, q.Push(NewRequest("a", "b", fmt.Sprint(i), GeneralRequest{})))
	}
	assert.Equal(t, 5, q.Len())

	ctx := context.Background()
	for i := range 5 {
		m, err := q.Pop(ctx)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), m.CorrelationID)
	}
	_, ok := q.TryPop()
	assert.False(t, ok)
}

func TestQueuePopBlocksUntilPush(t *testing.T) {
	q := NewQueue()
	got := make(chan Message, 1)
	go func() {
		m, err := q.Pop(context.Background())
		if err == nil {
			got <- m
		}
	}()

	time.Sleep(10 * time.Millisecond)
	q.Push(NewRequest("a", "b", "late", GeneralRequest{}))

	select {
	case m := <-got:
		assert.Equal(t, "late", m.CorrelationID)
	case <-time.After(time.Second):
		t.Fatal("pop did not wake up")
	}
}

func TestQueuePopHonoursContext(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestQueueConcurrentConsumers(t *testing.T) {
	q := NewQueue()
	const n = 200
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen = make(map[string]bool)
		wg   sync.WaitGroup
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				m, err := q.Pop(ctx)
				if err != nil {
					return
				}
				mu.Lock()
				seen[m.CorrelationID] = true
				done := len(seen) == n
				mu.Unlock()
				if done {
					q.Close()
				}
			}
		}()
	}
	for i := range n {
		q.Push(NewRequest("a", "b", fmt.Sprint(i), GeneralRequest{}))
	}
	wg.Wait()
	assert.Len(t, seen, n)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	q.Push(NewRequest("a", "b", "x", GeneralRequest{}))
	q.Close()
	q.Close()

	assert.True(t, q.IsClosed())
	assert.Equal(t, 0, q.Len())
	assert.False(t, q.Push(NewRequest("a", "b", "y", GeneralRequest{})))
	_, err := q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}
