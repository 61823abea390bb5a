package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var active int32
	var maxActive int32
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := km.Lock(context.Background(), "m1::tA")
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer release()

			n := atomic.AddInt32(&active, 1)
			if n > atomic.LoadInt32(&maxActive) {
				atomic.StoreInt32(&maxActive, n)
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most 1 concurrent holder for the same key, got %d", maxActive)
	}
}

func TestKeyedMutex_DifferentKeysProceedInParallel(t *testing.T) {
	km := NewKeyedMutex()
	start := make(chan struct{})
	var wg sync.WaitGroup
	results := make([]time.Duration, 2)

	for i := 0; i < 2; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			t0 := time.Now()
			release, err := km.Lock(context.Background(), PairKey("m1", "tenant"+string(rune('A'+i))))
			if err != nil {
				t.Errorf("lock: %v", err)
				return
			}
			defer release()
			time.Sleep(20 * time.Millisecond)
			results[i] = time.Since(t0)
		}()
	}
	close(start)
	wg.Wait()

	for _, d := range results {
		if d > 30*time.Millisecond {
			t.Fatalf("expected independent pairs to run concurrently, took %v", d)
		}
	}
}

func TestKeyedMutex_ContextCancelTimesOut(t *testing.T) {
	km := NewKeyedMutex()
	release, err := km.Lock(context.Background(), "held")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	if _, err := km.Lock(ctx, "held"); err == nil {
		t.Fatal("expected timeout error, got nil")
	}
}
