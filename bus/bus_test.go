package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func kinds(msgs []Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.String()
	}
	return out
}

// answerFirst pops one request from inbox and replies to it.
func answerFirst(t *testing.T, b *Bus, inbox *Queue, payload Payload) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := inbox.Pop(ctx)
	if err != nil {
		t.Errorf("pop request: %v", err)
		return
	}
	b.Publish(Reply(req, payload))
}

func TestSubscribeIsIdempotent(t *testing.T) {
	b := NewBus("s1")
	defer b.Close()

	q1 := b.Subscribe("retrieval")
	q2 := b.Subscribe("retrieval")
	other := b.Subscribe("answering")

	assert.Same(t, q1, q2)
	assert.NotSame(t, q1, other)
}

func TestPublish(t *testing.T) {
	t.Run("delivers to receiver queue and records history", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()
		inbox := b.Subscribe("general")

		msg := NewRequest("coordinator", "general", "", GeneralRequest{Query: "hi"})
		require.True(t, b.Publish(msg))

		assert.Equal(t, 1, inbox.Len())
		got, ok := inbox.TryPop()
		require.True(t, ok)
		assert.Equal(t, msg.CorrelationID, got.CorrelationID)
		assert.Len(t, b.History(""), 1)
	})

	t.Run("unknown receiver is recorded but not delivered", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()

		msg := NewRequest("coordinator", "nobody", "c1", GeneralRequest{Query: "hi"})
		assert.False(t, b.Publish(msg))
		assert.Len(t, b.History("c1"), 1)
	})

	t.Run("closed bus records nothing", func(t *testing.T) {
		b := NewBus("s1")
		b.Subscribe("general")
		b.Close()

		assert.False(t, b.Publish(NewRequest("coordinator", "general", "c1", GeneralRequest{Query: "hi"})))
		assert.Empty(t, b.History(""))
	})
}

func TestSendAndAwait(t *testing.T) {
	t.Run("returns correlated response and leaves unrelated messages in order", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()
		inbox := b.Subscribe("retrieval")
		own := b.Subscribe("coordinator")

		// Unrelated traffic already waiting in the requester's queue.
		u1 := NewRequest("general", "coordinator", "other-1", GeneralRequest{Query: "a"})
		u2 := NewRequest("general", "coordinator", "other-2", GeneralRequest{Query: "b"})
		require.True(t, b.Publish(u1))
		require.True(t, b.Publish(u2))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			answerFirst(t, b, inbox, RetrievalResponse{MatchedCount: 0})
		}()

		req := NewRequest("coordinator", "retrieval", "turn-1", RetrievalRequest{Query: "q"})
		resp, err := b.SendAndAwait(context.Background(), req, time.Second)
		wg.Wait()

		require.NoError(t, err)
		assert.Equal(t, KindRetrievalResponse, resp.Kind())
		assert.Equal(t, "turn-1", resp.CorrelationID)
		assert.Equal(t, "retrieval", resp.Sender)
		assert.Equal(t, "coordinator", resp.Receiver)

		left := own.Snapshot()
		require.Len(t, left, 2)
		if diff := cmp.Diff([]string{"other-1", "other-2"}, []string{left[0].CorrelationID, left[1].CorrelationID}); diff != "" {
			t.Errorf("unrelated queue order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("error reply satisfies the wait", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()
		inbox := b.Subscribe("general")

		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			req, err := inbox.Pop(ctx)
			if err == nil {
				b.Publish(ErrorReply(req, "general", errors.New("model offline"), ""))
			}
		}()

		resp, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "general", "c1", GeneralRequest{Query: "q"}), time.Second)
		require.NoError(t, err)
		require.Equal(t, KindError, resp.Kind())
		payload, ok := resp.Payload.(ErrorPayload)
		require.True(t, ok)
		assert.Equal(t, "model offline", payload.Error)
	})

	t.Run("times out with correlation id", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		m, err := NewMetrics(reg)
		require.NoError(t, err)
		b := NewBus("s1", WithMetrics(m))
		defer b.Close()
		b.Subscribe("retrieval")

		req := NewRequest("coordinator", "retrieval", "slow-turn", RetrievalRequest{Query: "q"})
		_, err = b.SendAndAwait(context.Background(), req, 20*time.Millisecond)
		require.ErrorIs(t, err, ErrResponseTimeout)
		assert.Contains(t, err.Error(), "slow-turn")
		assert.Equal(t, 1.0, testutil.ToFloat64(m.timeouts))
	})

	t.Run("late response lands in the requester queue", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()
		inbox := b.Subscribe("retrieval")

		req := NewRequest("coordinator", "retrieval", "late", RetrievalRequest{Query: "q"})
		_, err := b.SendAndAwait(context.Background(), req, 10*time.Millisecond)
		require.ErrorIs(t, err, ErrResponseTimeout)

		got, ok := inbox.TryPop()
		require.True(t, ok)
		require.True(t, b.Publish(Reply(got, RetrievalResponse{})))
		assert.Equal(t, 1, b.Subscribe("coordinator").Len())
	})

	t.Run("undeliverable request still waits for the timeout", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()

		start := time.Now()
		_, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "ghost", "c1", GeneralRequest{}), 20*time.Millisecond)
		require.ErrorIs(t, err, ErrResponseTimeout)
		assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
		assert.Len(t, b.History("c1"), 1)
	})

	t.Run("context cancellation", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()
		b.Subscribe("retrieval")

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := b.SendAndAwait(ctx, NewRequest("coordinator", "retrieval", "c1", RetrievalRequest{}), time.Second)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("bus close releases waiter", func(t *testing.T) {
		b := NewBus("s1")
		b.Subscribe("retrieval")

		go func() {
			time.Sleep(10 * time.Millisecond)
			b.Close()
		}()
		_, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "retrieval", "c1", RetrievalRequest{}), 5*time.Second)
		assert.ErrorIs(t, err, ErrBusClosed)
	})

	t.Run("closed bus rejects immediately", func(t *testing.T) {
		b := NewBus("s1")
		b.Close()
		_, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "retrieval", "c1", RetrievalRequest{}), time.Second)
		assert.ErrorIs(t, err, ErrBusClosed)
	})

	t.Run("duplicate wait is rejected", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()
		b.Subscribe("retrieval")

		started := make(chan struct{})
		done := make(chan error, 1)
		go func() {
			close(started)
			_, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "retrieval", "dup", RetrievalRequest{}), 200*time.Millisecond)
			done <- err
		}()
		<-started
		require.Eventually(t, func() bool { return len(b.History("dup")) == 1 }, time.Second, time.Millisecond)

		_, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "retrieval", "dup", RetrievalRequest{}), 200*time.Millisecond)
		assert.ErrorIs(t, err, ErrDuplicateWaiter)
		assert.ErrorIs(t, <-done, ErrResponseTimeout)
	})

	t.Run("request carries the earlier deadline", func(t *testing.T) {
		b := NewBus("s1")
		defer b.Close()
		inbox := b.Subscribe("retrieval")

		before := time.Now()
		_, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "retrieval", "d1", RetrievalRequest{}), 20*time.Millisecond)
		require.ErrorIs(t, err, ErrResponseTimeout)
		req, ok := inbox.TryPop()
		require.True(t, ok)
		d, ok := req.Deadline()
		require.True(t, ok)
		assert.WithinDuration(t, before.Add(20*time.Millisecond), d, 15*time.Millisecond)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()
		ctxDeadline, _ := ctx.Deadline()
		_, err = b.SendAndAwait(ctx, NewRequest("coordinator", "retrieval", "d2", RetrievalRequest{}), time.Minute)
		require.ErrorIs(t, err, context.DeadlineExceeded)
		req, ok = inbox.TryPop()
		require.True(t, ok)
		d, ok = req.Deadline()
		require.True(t, ok)
		assert.True(t, ctxDeadline.Equal(d))
	})

	t.Run("concurrent waits from one sender get their own replies", func(t *testing.T) {
		const n = 20
		b := NewBus("s1")
		defer b.Close()
		inbox := b.Subscribe("retrieval")

		type outcome struct {
			id   string
			resp Message
			err  error
		}
		results := make(chan outcome, n)
		for i := range n {
			id := fmt.Sprintf("c%02d", i)
			go func() {
				resp, err := b.SendAndAwait(context.Background(), NewRequest("coordinator", "retrieval", id, RetrievalRequest{Query: id}), 5*time.Second)
				results <- outcome{id: id, resp: resp, err: err}
			}()
		}
		require.Eventually(t, func() bool { return inbox.Len() == n }, 2*time.Second, time.Millisecond)

		reqs := make([]Message, 0, n)
		for range n {
			req, ok := inbox.TryPop()
			require.True(t, ok)
			reqs = append(reqs, req)
		}
		for i := len(reqs) - 1; i >= 0; i-- {
			req := reqs[i]
			q := req.Payload.(RetrievalRequest).Query
			require.True(t, b.Publish(Reply(req, RetrievalResponse{Queries: []string{q}})))
		}

		seen := make(map[string]bool, n)
		for range n {
			out := <-results
			require.NoError(t, out.err)
			assert.Equal(t, out.id, out.resp.CorrelationID)
			assert.Equal(t, RetrievalResponse{Queries: []string{out.id}}, out.resp.Payload)
			seen[out.id] = true
		}
		assert.Len(t, seen, n)
		assert.Equal(t, 0, b.Subscribe("coordinator").Len(), "replies must not leak into the sender queue")
		assert.Len(t, b.History(""), 2*n)
	})
}

func TestHistory(t *testing.T) {
	b := NewBus("s1")
	defer b.Close()
	b.Subscribe("retrieval")
	b.Subscribe("answering")
	b.Subscribe("coordinator")

	r1 := NewRequest("coordinator", "retrieval", "A", RetrievalRequest{Query: "q"})
	x1 := NewRequest("coordinator", "answering", "B", AnswerRequest{Query: "other"})
	b.Publish(r1)
	b.Publish(x1)
	b.Publish(Reply(r1, RetrievalResponse{}))
	a1 := NewRequest("coordinator", "answering", "A", AnswerRequest{Query: "q"})
	b.Publish(a1)
	b.Publish(Reply(a1, AnswerResponse{AnswerText: "42"}))

	want := []string{
		"coordinator → retrieval: RETRIEVAL_REQUEST",
		"retrieval → coordinator: RETRIEVAL_RESPONSE",
		"coordinator → answering: ANSWER_REQUEST",
		"answering → coordinator: ANSWER_RESPONSE",
	}
	if diff := cmp.Diff(want, kinds(b.History("A"))); diff != "" {
		t.Errorf("History(A) mismatch (-want +got):\n%s", diff)
	}
	assert.Len(t, b.History("B"), 1)
	assert.Len(t, b.History(""), 5)
	assert.Empty(t, b.History("missing"))

	// Callers get a copy.
	h := b.History("")
	h[0] = Message{}
	assert.Equal(t, "A", b.History("")[0].CorrelationID)
}

func TestSessionIsolation(t *testing.T) {
	reg := NewRegistry()
	defer reg.Close()

	b1 := reg.Open("one")
	b2 := reg.Open("two")
	require.NotSame(t, b1, b2)

	q1 := b1.Subscribe("retrieval")
	q2 := b2.Subscribe("retrieval")
	require.NotSame(t, q1, q2)

	b1.Publish(NewRequest("coordinator", "retrieval", "c1", RetrievalRequest{Query: "q"}))

	assert.Equal(t, 1, q1.Len())
	assert.Equal(t, 0, q2.Len())
	assert.Len(t, b1.History(""), 1)
	assert.Empty(t, b2.History(""))
}

func TestBusCloseReleasesPop(t *testing.T) {
	b := NewBus("s1")
	inbox := b.Subscribe("general")

	errc := make(chan error, 1)
	go func() {
		_, err := inbox.Pop(context.Background())
		errc <- err
	}()
	time.Sleep(10 * time.Millisecond)
	b.Close()
	b.Close()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrQueueClosed)
	case <-time.After(time.Second):
		t.Fatal("pop was not released by Close")
	}
	assert.True(t, b.IsClosed())
	assert.True(t, b.Subscribe("general").IsClosed())
}

func TestMetricsCountPublishes(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	require.NoError(t, err)

	b := NewBus("s1", WithMetrics(m))
	b.Subscribe("general")
	b.Publish(NewRequest("coordinator", "general", "c1", GeneralRequest{}))
	b.Publish(NewRequest("coordinator", "nobody", "c1", GeneralRequest{}))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.published.WithLabelValues("GENERAL_REQUEST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.undelivered.WithLabelValues("GENERAL_REQUEST")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liveBuses))
	b.Close()
	assert.Equal(t, 0.0, testutil.ToFloat64(m.liveBuses))

	_, err = NewMetrics(reg)
	assert.Error(t, err, "registering twice must fail")
}
