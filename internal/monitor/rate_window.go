package monitor

import (
	"sync"
	"time"
)

type netSample struct {
	bytesReceived uint64
	bytesSent     uint64
	at            time.Time
}

// rateWindow keeps the most recent network counter samples and derives an
// average transfer rate from the oldest and newest samples inside the window.
type rateWindow struct {
	mu     sync.RWMutex
	window time.Duration
	max    int
	items  []netSample
}

func newRateWindow(max int, window time.Duration) *rateWindow {
	if max <= 0 {
		max = 10
	}
	if window <= 0 {
		window = 6 * time.Second
	}
	return &rateWindow{max: max, window: window}
}

func (w *rateWindow) Add(s netSample) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items = append(w.items, s)
	if len(w.items) > w.max {
		w.items = w.items[len(w.items)-w.max:]
	}
}

// Rates returns received and sent bytes per second, or zeros when fewer than
// two samples fall inside the window.
func (w *rateWindow) Rates(now time.Time) (recvRate float64, sentRate float64) {
	if w == nil {
		return 0, 0
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if len(w.items) < 2 {
		return 0, 0
	}

	// Walk back from the newest sample until one falls outside the window.
	first := len(w.items)
	for i := len(w.items) - 1; i >= 0; i-- {
		if now.Sub(w.items[i].at) > w.window {
			break
		}
		first = i
	}
	inWindow := w.items[first:]
	if len(inWindow) < 2 {
		return 0, 0
	}

	oldest := inWindow[0]
	newest := inWindow[len(inWindow)-1]
	dt := newest.at.Sub(oldest.at).Seconds()
	if dt <= 0 {
		return 0, 0
	}

	recvRate = float64(newest.bytesReceived-oldest.bytesReceived) / dt
	sentRate = float64(newest.bytesSent-oldest.bytesSent) / dt
	return recvRate, sentRate
}
