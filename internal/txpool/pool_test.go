// ABOUTME: Tests for the transmit buffer pool
// ABOUTME: Covers capacity bound, blocking acquire, double release and headroom
package txpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestAcquireBlocksAtCapacity(t *testing.T) {
	pool := New(3, 40, 8)

	held := make([]*Buffer, 0, 3)
	for i := 0; i < 3; i++ {
		held = append(held, pool.Acquire())
	}

	if s := pool.Stats(); s.InUse != 3 {
		t.Fatalf("expected 3 in use, got %d", s.InUse)
	}

	got := make(chan *Buffer, 1)
	go func() {
		got <- pool.Acquire()
	}()

	select {
	case <-got:
		t.Fatal("fourth acquire returned while pool was exhausted")
	case <-time.After(50 * time.Millisecond):
	}

	held[1].Release()

	select {
	case buf := <-got:
		if buf != held[1] {
			t.Errorf("expected released buffer %d, got %d", held[1].ID(), buf.ID())
		}
	case <-time.After(time.Second):
		t.Fatal("acquire did not resume after release")
	}

	s := pool.Stats()
	if s.Waits != 1 {
		t.Errorf("expected 1 waiting acquire, got %d", s.Waits)
	}
	if s.Acquires != 4 {
		t.Errorf("expected 4 acquires, got %d", s.Acquires)
	}
	if s.HighWater != 3 {
		t.Errorf("expected high water 3, got %d", s.HighWater)
	}
}

func TestInUseNeverExceedsCapacity(t *testing.T) {
	const capacity = 4
	pool := New(capacity, 16, 0)

	var current, peak atomic.Int64
	var wg sync.WaitGroup

	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				buf := pool.Acquire()
				n := current.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				current.Add(-1)
				buf.Release()
			}
		}()
	}
	wg.Wait()

	if peak.Load() > capacity {
		t.Errorf("observed %d buffers in flight, capacity is %d", peak.Load(), capacity)
	}
	if s := pool.Stats(); s.InUse != 0 || s.HighWater > capacity {
		t.Errorf("unexpected stats after run: %+v", s)
	}
}

func TestDoubleReleasePanics(t *testing.T) {
	pool := New(1, 8, 0)
	buf := pool.Acquire()
	buf.Release()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on double release")
		}
	}()
	buf.Release()
}

func TestForeignReleasePanics(t *testing.T) {
	a := New(1, 8, 0)
	b := New(1, 8, 0)
	buf := a.Acquire()

	defer func() {
		if recover() == nil {
			t.Error("expected panic on release to foreign pool")
		}
	}()
	b.Release(buf)
}

func TestAcquireContextCancel(t *testing.T) {
	pool := New(1, 8, 0)
	pool.Acquire()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	buf, err := pool.AcquireContext(ctx)
	if buf != nil {
		t.Error("expected no buffer on cancelled acquire")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
	if s := pool.Stats(); s.InUse != 1 {
		t.Errorf("cancelled acquire changed in-use count: %d", s.InUse)
	}
}

func TestBufferHeadroom(t *testing.T) {
	pool := New(1, 40, 4)
	buf := pool.Acquire()

	if len(buf.Headroom()) != 4 {
		t.Errorf("expected 4 bytes of headroom, got %d", len(buf.Headroom()))
	}
	if buf.Cap() != 40 {
		t.Errorf("expected capacity 40, got %d", buf.Cap())
	}

	payload := []byte{1, 2, 3, 4, 5}
	if n := buf.Append(payload); n != 5 {
		t.Errorf("expected 5 bytes appended, got %d", n)
	}
	if buf.Len() != 5 || buf.Bytes()[4] != 5 {
		t.Errorf("unexpected payload: %v", buf.Bytes())
	}
	if len(buf.Frame()) != 9 {
		t.Errorf("expected frame of 9 bytes, got %d", len(buf.Frame()))
	}

	if n := buf.Append(make([]byte, 100)); n != 35 {
		t.Errorf("expected append truncated to 35 bytes, got %d", n)
	}

	buf.Release()
	buf = pool.Acquire()
	if buf.Len() != 0 {
		t.Errorf("expected empty payload after reacquire, got %d", buf.Len())
	}
}
