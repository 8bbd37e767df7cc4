package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSameKeyMessagesAreSerialized(t *testing.T) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	q := New(stop, &wg)
	defer close(stop)

	var order []int
	var mu sync.Mutex
	release := make(chan struct{})

	q.Enqueue(Message{Key: "dep-1", Do: func() {
		mu.Lock()
		order = append(order, 1)
		mu.Unlock()
		<-release
	}})
	q.Enqueue(Message{Key: "dep-1", Do: func() {
		mu.Lock()
		order = append(order, 2)
		mu.Unlock()
	}})

	first := requireReady(t, q)
	go func() {
		first.Do()
		q.Done(first.Key)
	}()

	// The second message must not become ready while the first is busy.
	select {
	case <-q.Ready():
		t.Fatal("second message for the same key became ready before the first finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	second := requireReady(t, q)
	second.Do()
	q.Done(second.Key)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{1, 2}, order)
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	stop := make(chan struct{})
	var wg sync.WaitGroup
	q := New(stop, &wg)
	defer close(stop)

	q.Enqueue(Message{Key: "a", Do: func() {}})
	q.Enqueue(Message{Key: "b", Do: func() {}})

	a := requireReady(t, q)
	b := requireReady(t, q)
	assert.NotEqual(t, a.Key, b.Key)
	q.Done(a.Key)
	q.Done(b.Key)
}

func requireReady(t *testing.T, q *Queue) Message {
	t.Helper()
	select {
	case m := <-q.Ready():
		return m
	case <-time.After(time.Second):
		require.Fail(t, "no message became ready")
		return Message{}
	}
}
