package progress

import (
	"context"
	"sync"
	"time"

	"mealgen/internal/domain"
	"mealgen/internal/infra"
)

// SnapshotWriter persists snapshots. domain.JobStore satisfies it.
type SnapshotWriter interface {
	SaveSnapshot(ctx context.Context, snapshot domain.JobSnapshot) error
}

// Snapshotter periodically writes changed snapshots to the job store and
// evicts finished jobs once their final snapshot is durable.
type Snapshotter struct {
	tracker   *Tracker
	store     SnapshotWriter
	interval  time.Duration
	retention time.Duration
	logger    infra.Logger

	mu    sync.Mutex
	saved map[string]uint64
}

// NewSnapshotter wires a snapshotter. retention <= 0 evicts on the first
// flush after the terminal snapshot is saved.
func NewSnapshotter(tracker *Tracker, store SnapshotWriter, interval, retention time.Duration, logger infra.Logger) *Snapshotter {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Snapshotter{
		tracker:   tracker,
		store:     store,
		interval:  interval,
		retention: retention,
		logger:    infra.Component(logger, "snapshotter"),
		saved:     make(map[string]uint64),
	}
}

// Run flushes on every tick until ctx is done, then flushes once more.
func (s *Snapshotter) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			s.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			s.Flush(ctx)
		}
	}
}

// Flush saves every snapshot whose revision changed since the last save and
// returns how many were written.
func (s *Snapshotter) Flush(ctx context.Context) int {
	written := 0
	for _, snap := range s.tracker.Active() {
		s.mu.Lock()
		last := s.saved[snap.JobID]
		s.mu.Unlock()
		if last >= snap.Revision {
			continue
		}
		if err := s.store.SaveSnapshot(ctx, snap); err != nil {
			s.logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("save snapshot failed")
			continue
		}
		s.mu.Lock()
		s.saved[snap.JobID] = snap.Revision
		s.mu.Unlock()
		written++
	}

	evicted := s.tracker.Evict(time.Now().Add(-s.retention), func(snap domain.JobSnapshot) bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.saved[snap.JobID] < snap.Revision
	})
	if evicted > 0 {
		s.mu.Lock()
		ids := make([]string, 0, len(s.saved))
		for id := range s.saved {
			ids = append(ids, id)
		}
		s.mu.Unlock()
		for _, id := range ids {
			if _, ok := s.tracker.Snapshot(id); !ok {
				s.mu.Lock()
				delete(s.saved, id)
				s.mu.Unlock()
			}
		}
		s.logger.Debug().Int("evicted", evicted).Msg("finished jobs evicted")
	}
	return written
}
