package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/store"
)

// Checkpoint keys, stored in the settings table.
const (
	CheckpointStatusSync = "lastStatusSync"
	CheckpointLedgerSync = "lastLedgerSync"
	CheckpointAppSync    = "lastAppSync"
	CheckpointInbound    = "lastInbound"
)

// Checkpoints lists every checkpoint key in display order.
var Checkpoints = []string{CheckpointStatusSync, CheckpointLedgerSync, CheckpointAppSync, CheckpointInbound}

// Reconciler records when each sync path last completed.
type Reconciler struct {
	db     *store.DB
	logger *zap.Logger
}

// NewReconciler creates a new reconciler.
func NewReconciler(db *store.DB, logger *zap.Logger) *Reconciler {
	return &Reconciler{db: db, logger: logging.OrNop(logger)}
}

// Mark records now as the checkpoint for key. Failures are logged only.
func (r *Reconciler) Mark(ctx context.Context, key string) {
	if r == nil {
		return
	}
	if err := r.db.SetSetting(ctx, key, time.Now().UTC().Format(time.RFC3339Nano)); err != nil {
		r.logger.Warn("checkpoint not saved", zap.String("key", key), zap.Error(err))
	}
}

// Get returns the checkpoint time for key, zero when never recorded.
func (r *Reconciler) Get(ctx context.Context, key string) (time.Time, error) {
	raw, ok, err := r.db.GetSetting(ctx, key)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, nil
	}
	return t, nil
}
