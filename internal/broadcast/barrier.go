// ABOUTME: Counting barrier used for channel start and stop synchronization
// ABOUTME: Signals saturate at the channel count like a bounded semaphore
package broadcast

import "context"

// barrier collects up to limit signals; wait consumes them
type barrier struct {
	signals chan struct{}
}

func newBarrier(limit int) *barrier {
	return &barrier{signals: make(chan struct{}, limit)}
}

// give records one signal; signals past the limit are dropped
func (b *barrier) give() {
	select {
	case b.signals <- struct{}{}:
	default:
	}
}

// wait blocks until count signals have been taken or ctx is done
func (b *barrier) wait(ctx context.Context, count int) error {
	for i := 0; i < count; i++ {
		select {
		case <-b.signals:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
