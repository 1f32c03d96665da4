// ABOUTME: Listener-side clock synchronization with drift compensation
// ABOUTME: Maps broadcaster timestamps into the listener's clock
package sync

import (
	"log"
	"sync"
	"time"
)

const (
	maxRTT      = 100000 // µs; slower exchanges are discarded
	maxResidual = 50000  // µs; larger jumps are treated as outliers
	degradedRTT = 50000  // µs
	staleAfter  = 5 * time.Second
)

// Quality represents sync quality
type Quality int

const (
	QualityGood Quality = iota
	QualityDegraded
	QualityLost
)

func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityDegraded:
		return "degraded"
	default:
		return "lost"
	}
}

// ClockSync estimates offset and drift between the broadcaster clock and
// a local microsecond clock from listener/time exchanges.
// All timestamps are microseconds; the two clocks may have unrelated epochs.
type ClockSync struct {
	mu            sync.RWMutex
	offset        int64   // broadcaster - local
	drift         float64 // µs/µs
	rtt           int64
	quality       Quality
	lastSync      time.Time
	lastLocal     int64 // local time of the last accepted sample
	samples       int
	smoothingRate float64
}

// NewClockSync creates a new clock synchronizer
func NewClockSync() *ClockSync {
	return &ClockSync{
		smoothingRate: 0.1,
		quality:       QualityLost,
	}
}

// ProcessSyncResponse folds in one exchange: t1 local send, t2 broadcaster
// receive, t3 broadcaster send, t4 local receive. It reports whether the
// sample was accepted.
func (cs *ClockSync) ProcessSyncResponse(t1, t2, t3, t4 int64) bool {
	rtt, measured := calculateOffset(t1, t2, t3, t4)

	cs.mu.Lock()
	defer cs.mu.Unlock()

	cs.rtt = rtt

	if rtt < 0 || rtt > maxRTT {
		log.Printf("Discarding sync sample: RTT %dµs", rtt)
		return false
	}

	switch cs.samples {
	case 0:
		cs.offset = measured

	case 1:
		if dt := float64(t4 - cs.lastLocal); dt > 0 {
			cs.drift = float64(measured-cs.offset) / dt
		}
		cs.offset = measured

	default:
		dt := float64(t4 - cs.lastLocal)
		if dt <= 0 {
			log.Printf("Discarding sync sample: non-monotonic time")
			return false
		}

		predicted := cs.offset + int64(cs.drift*dt)
		residual := measured - predicted
		if residual > maxResidual || residual < -maxResidual {
			log.Printf("Discarding sync sample: residual %dµs", residual)
			return false
		}

		cs.offset = predicted + int64(cs.smoothingRate*float64(residual))
		cs.drift += cs.smoothingRate * float64(residual) / dt
	}

	cs.lastLocal = t4
	cs.lastSync = time.Now()
	cs.samples++

	if rtt < degradedRTT {
		cs.quality = QualityGood
	} else {
		cs.quality = QualityDegraded
	}

	return true
}

// calculateOffset computes RTT and clock offset (positive = broadcaster ahead)
func calculateOffset(t1, t2, t3, t4 int64) (rtt, offset int64) {
	rtt = (t4 - t1) - (t3 - t2)
	offset = ((t2 - t1) + (t3 - t4)) / 2
	return
}

// Stats returns the current offset, last RTT and quality
func (cs *ClockSync) Stats() (offset, rtt int64, quality Quality) {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.samples > 0 && time.Since(cs.lastSync) > staleAfter {
		cs.quality = QualityLost
	}
	return cs.offset, cs.rtt, cs.quality
}

// Drift returns the estimated drift rate
func (cs *ClockSync) Drift() float64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.drift
}

// Synced reports whether at least one sample was accepted
func (cs *ClockSync) Synced() bool {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	return cs.samples > 0
}

// ToLocal converts a broadcaster timestamp to local microseconds.
// Before the first sample the clocks are assumed equal.
func (cs *ClockSync) ToLocal(broadcast int64) int64 {
	cs.mu.RLock()
	defer cs.mu.RUnlock()

	if cs.samples == 0 {
		return broadcast
	}

	// broadcast = local + offset + drift*(local - lastLocal)
	numerator := float64(broadcast) - float64(cs.offset) + cs.drift*float64(cs.lastLocal)
	return int64(numerator / (1.0 + cs.drift))
}
