package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/store"
)

// StatusScheduler exchanges {id, status} pairs with the peer every tick and
// applies the peer's differing statuses verbatim.
type StatusScheduler struct {
	db         *store.DB
	relay      Relay
	bus        *bus.Bus
	id         config.Identity
	interval   time.Duration
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc

	mu     gosync.Mutex
	synced bool
}

// NewStatusScheduler creates a status scheduler ticking every interval.
func NewStatusScheduler(db *store.DB, relay Relay, b *bus.Bus, id config.Identity, interval time.Duration, rec *Reconciler, logger *zap.Logger) *StatusScheduler {
	return &StatusScheduler{
		db:         db,
		relay:      relay,
		bus:        b,
		id:         id,
		interval:   interval,
		reconciler: rec,
		logger:     logging.OrNop(logger).Named("status_sync"),
	}
}

// Start begins the periodic exchange.
func (s *StatusScheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	go s.loop(ctx)
}

// Stop stops the scheduler loop.
func (s *StatusScheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *StatusScheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Synced reports whether the last cycle completed with nothing to apply.
func (s *StatusScheduler) Synced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.synced
}

func (s *StatusScheduler) setSynced(v bool) {
	s.mu.Lock()
	s.synced = v
	s.mu.Unlock()
}

// RunOnce performs one exchange and returns the number of statuses applied.
// A missing counterpart or malformed reply leaves the store untouched.
func (s *StatusScheduler) RunOnce(ctx context.Context) (int, error) {
	known, err := s.db.KnownStatuses(ctx, s.id.DeviceID)
	if err != nil {
		s.logger.Error("failed to collect statuses", zap.Error(err))
		s.setSynced(false)
		return 0, err
	}

	updates, err := s.relay.SyncStatuses(ctx, known)
	if err != nil {
		s.logger.Debug("status exchange failed", zap.Error(err))
		s.setSynced(false)
		return 0, err
	}

	applied := 0
	for _, u := range updates {
		change, err := s.db.UpdateStatus(ctx, u.ID, u.Status, false)
		if err != nil {
			s.logger.Error("failed to apply peer status", zap.String("id", u.ID), zap.Error(err))
			continue
		}
		if change == nil {
			continue
		}
		applied++
		s.logger.Info("status from peer",
			zap.String("id", change.ID),
			zap.String("from", change.From),
			zap.String("to", change.To),
		)
		s.bus.Emit(bus.KindMessageStatus, map[string]string{"id": change.ID, "status": change.To})
	}

	if applied > 0 {
		writeSyncLog(ctx, s.db, &store.SyncLogEntry{From: "StatusSync", Peer: peerLabel(s.id), Updated: applied}, s.logger)
	}
	s.setSynced(applied == 0)
	s.reconciler.Mark(ctx, CheckpointStatusSync)
	s.bus.Emit(bus.KindStatusSynced, map[string]int{"known": len(known), "applied": applied})
	return applied, nil
}
