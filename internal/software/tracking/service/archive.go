package service

import (
	"context"
	"sync"
	"time"

	"fleet-tracker/internal/domain/fleet"
	"fleet-tracker/internal/domain/geo"
	"fleet-tracker/internal/general/logger"
	"fleet-tracker/internal/ports"
)

// ArchiveConfig bounds the archive queue and batching.
type ArchiveConfig struct {
	EntityType    geo.EntityType
	Queue         int
	Batch         int
	FlushInterval time.Duration
}

// Archiver copies applied position updates into location_history.
// Observe runs on the hub's publishing goroutine, so it only enqueues: when
// the queue is full the oldest pending point is dropped.
type Archiver struct {
	logger *logger.Logger
	uow    ports.UnitOfWork
	repo   ports.LocationHistoryRepository
	cfg    ArchiveConfig

	mu      sync.Mutex
	pending []*geo.LocationHistory
	dropped uint64
	skipped uint64
	wake    chan struct{}
}

func NewArchiver(log *logger.Logger, uow ports.UnitOfWork, repo ports.LocationHistoryRepository, cfg ArchiveConfig) *Archiver {
	if cfg.Queue <= 0 {
		cfg.Queue = 1024
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 2 * time.Second
	}
	if !cfg.EntityType.Valid() {
		cfg.EntityType = geo.EntityTypeDriver
	}
	return &Archiver{
		logger: log,
		uow:    uow,
		repo:   repo,
		cfg:    cfg,
		wake:   make(chan struct{}, 1),
	}
}

// Observe is the hub listener.
func (a *Archiver) Observe(change fleet.Change) {
	if change.Kind != fleet.ChangeUpdated || change.Record == nil {
		return
	}
	rec := change.Record
	row, err := geo.NewLocationHistory(rec.ID.String(), a.cfg.EntityType, rec.Current, rec.Seq, change.At)
	if err != nil {
		a.mu.Lock()
		a.skipped++
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	if len(a.pending) >= a.cfg.Queue {
		a.pending[0] = nil
		a.pending = a.pending[1:]
		a.dropped++
	}
	a.pending = append(a.pending, row)
	full := len(a.pending) >= a.cfg.Batch
	a.mu.Unlock()

	if full {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

// Pending returns the number of queued points.
func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

// Run flushes on every interval and whenever a full batch is queued. On
// shutdown it makes one last bounded flush.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			a.Flush(flushCtx)
			cancel()
			return nil
		case <-ticker.C:
			a.Flush(ctx)
		case <-a.wake:
			a.Flush(ctx)
		}
	}
}

// Flush writes every queued point in batches and returns how many were stored.
// A failed batch is logged and discarded.
func (a *Archiver) Flush(ctx context.Context) int {
	stored := 0
	for {
		batch, dropped, skipped := a.take()
		if dropped > 0 || skipped > 0 {
			a.logger.Warn(ctx, "archive_points_lost", "Archive queue dropped points", nil, map[string]any{
				"dropped_overflow": dropped,
				"skipped_invalid":  skipped,
			})
		}
		if len(batch) == 0 {
			return stored
		}

		err := a.uow.WithinTx(ctx, func(ctx context.Context) error {
			return a.repo.ArchiveBatch(ctx, batch)
		})
		if err != nil {
			a.logger.Error(ctx, "archive_flush_failed", "Failed to archive positions", err, map[string]any{
				"batch": len(batch),
			})
			return stored
		}
		stored += len(batch)
	}
}

func (a *Archiver) take() (batch []*geo.LocationHistory, dropped, skipped uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := len(a.pending)
	if n > a.cfg.Batch {
		n = a.cfg.Batch
	}
	batch = make([]*geo.LocationHistory, n)
	copy(batch, a.pending[:n])
	a.pending = a.pending[n:]
	if len(a.pending) == 0 {
		a.pending = nil
	}

	dropped, skipped = a.dropped, a.skipped
	a.dropped, a.skipped = 0, 0
	return batch, dropped, skipped
}
