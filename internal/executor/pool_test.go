package executor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSubmitDeliversPayload(t *testing.T) {
	pool := NewPool(2, nil)
	defer pool.Close()

	handle := pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"open_ports": []int{22, 80}}, nil
	})

	outcome := <-handle.Done()
	if outcome.Err != nil {
		t.Fatalf("unexpected error: %v", outcome.Err)
	}
	if outcome.Payload == nil || outcome.Payload["open_ports"] == nil {
		t.Errorf("payload = %v", outcome.Payload)
	}
}

func TestSubmitDeliversError(t *testing.T) {
	pool := NewPool(1, nil)
	defer pool.Close()

	boom := errors.New("probe blew up")
	handle := pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
		return nil, boom
	})

	outcome := <-handle.Done()
	if !errors.Is(outcome.Err, boom) {
		t.Fatalf("got %v, want the task error", outcome.Err)
	}
	if outcome.Payload != nil {
		t.Errorf("payload should be nil on failure, got %v", outcome.Payload)
	}
}

func TestOutcomeDeliveredExactlyOnce(t *testing.T) {
	pool := NewPool(1, nil)
	defer pool.Close()

	handle := pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	})

	delivered := 0
	for range handle.Done() {
		delivered++
	}
	if delivered != 1 {
		t.Fatalf("expected exactly one outcome, got %d", delivered)
	}
}

func TestOutcomeWaitsForLateConsumer(t *testing.T) {
	pool := NewPool(1, nil)
	defer pool.Close()

	ran := make(chan struct{})
	handle := pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
		close(ran)
		return map[string]any{"done": true}, nil
	})

	// Let the task finish before anyone consumes the handle.
	<-ran
	time.Sleep(20 * time.Millisecond)

	select {
	case outcome := <-handle.Done():
		if outcome.Err != nil {
			t.Fatalf("unexpected error: %v", outcome.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("buffered outcome never arrived")
	}
}

func TestPanicBecomesFailureOutcome(t *testing.T) {
	pool := NewPool(1, nil)
	defer pool.Close()

	handle := pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
		panic("nil map write")
	})

	outcome := <-handle.Done()
	if outcome.Err == nil {
		t.Fatal("expected an error outcome from a panicking task")
	}
}

func TestBoundedConcurrency(t *testing.T) {
	pool := NewPool(2, nil)
	defer pool.Close()

	var mu sync.Mutex
	running, peak := 0, 0
	block := make(chan struct{})

	handles := make([]*Handle, 0, 6)
	for i := 0; i < 6; i++ {
		handles = append(handles, pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
			mu.Lock()
			running++
			if running > peak {
				peak = running
			}
			mu.Unlock()

			<-block

			mu.Lock()
			running--
			mu.Unlock()
			return nil, nil
		}))
	}

	time.Sleep(50 * time.Millisecond)
	close(block)
	for _, h := range handles {
		<-h.Done()
	}

	if peak > 2 {
		t.Errorf("peak concurrency %d exceeds pool size 2", peak)
	}
}

func TestSubmitAfterClose(t *testing.T) {
	pool := NewPool(1, nil)
	pool.Close()

	handle := pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
		return map[string]any{"never": true}, nil
	})

	select {
	case outcome := <-handle.Done():
		if outcome.Err == nil {
			t.Fatal("expected an error outcome after close")
		}
	case <-time.After(time.Second):
		t.Fatal("no outcome delivered after close")
	}
}

func TestSubmitHonorsCancelledContext(t *testing.T) {
	pool := NewPool(1, nil)
	defer pool.Close()

	// Occupy the single worker so the submission has to wait in the queue.
	block := make(chan struct{})
	busy := pool.Submit(context.Background(), func(ctx context.Context) (map[string]any, error) {
		<-block
		return nil, nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	handle := pool.Submit(ctx, func(ctx context.Context) (map[string]any, error) {
		return nil, nil
	})

	select {
	case outcome := <-handle.Done():
		if !errors.Is(outcome.Err, context.Canceled) {
			t.Fatalf("got %v, want context.Canceled", outcome.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no outcome for cancelled submission")
	}

	close(block)
	<-busy.Done()
}
