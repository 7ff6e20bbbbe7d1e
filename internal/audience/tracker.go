// Package audience records the peak number of live event-channel connections per room.
package audience

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

// PeakStore persists a room's peak audience. RaisePeak must never lower the stored value.
type PeakStore interface {
	RaisePeak(ctx context.Context, roomID string, count int) error
}

// Tracker remembers the highest count seen per room on this instance and writes new highs through.
type Tracker struct {
	store  PeakStore
	mu     sync.Mutex
	peaks  map[string]int
	logger *zap.Logger
}

// NewTracker creates a peak audience tracker.
func NewTracker(store PeakStore, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{store: store, peaks: make(map[string]int), logger: logger}
}

// Observe has the realtime.AudienceChangeHandler signature.
func (t *Tracker) Observe(roomID string, count int) {
	t.mu.Lock()
	if count == 0 {
		// The store keeps the high-water mark; the local copy is only a write filter.
		delete(t.peaks, roomID)
		t.mu.Unlock()
		return
	}
	if count <= t.peaks[roomID] {
		t.mu.Unlock()
		return
	}
	t.peaks[roomID] = count
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.store.RaisePeak(ctx, roomID, count); err != nil {
		t.logger.Warn("record peak audience failed", zap.String("room_id", roomID), zap.Int("count", count), zap.Error(err))
	}
}

// Peak returns the highest count seen for a room since it last emptied.
func (t *Tracker) Peak(roomID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peaks[roomID]
}
