package sync

import (
	"context"
	gosync "sync"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/store"
)

// Result describes one AppSync pass.
type Result struct {
	Success     bool
	Updated     []string
	Redelivered int
	Reason      string
}

// AppSync resolves status conflicts directly against the peer, outside the
// scheduler cadence. Peer statuses always win.
type AppSync struct {
	db         *store.DB
	relay      Relay
	outbox     Redeliverer
	ingester   *Ingester
	bus        *bus.Bus
	id         config.Identity
	interval   time.Duration
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc

	// Serializes passes so a forced sync and the periodic one never interleave.
	mu gosync.Mutex
}

// NewAppSync creates the AppSync layer. interval drives the periodic
// "regular" pass started by Start.
func NewAppSync(db *store.DB, relay Relay, outbox Redeliverer, ing *Ingester, b *bus.Bus, id config.Identity, interval time.Duration, rec *Reconciler, logger *zap.Logger) *AppSync {
	return &AppSync{
		db:         db,
		relay:      relay,
		outbox:     outbox,
		ingester:   ing,
		bus:        b,
		id:         id,
		interval:   interval,
		reconciler: rec,
		logger:     logging.OrNop(logger).Named("app_sync"),
	}
}

// Start begins the periodic pass.
func (a *AppSync) Start(ctx context.Context) {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.loop(ctx)
}

// Stop stops the periodic pass.
func (a *AppSync) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
}

func (a *AppSync) loop(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.SyncWithPeer(ctx, false, "regular")
		case <-ctx.Done():
			return
		}
	}
}

// ForceSync rewrites every peer-reported status, even equal ones.
func (a *AppSync) ForceSync(ctx context.Context, reason string) Result {
	return a.SyncWithPeer(ctx, true, reason)
}

// SyncWithPeer re-delivers undelivered local messages, then exchanges
// statuses with the peer and applies every returned update. Failures are
// reported through Result.Success, never as errors.
func (a *AppSync) SyncWithPeer(ctx context.Context, force bool, reason string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()

	res := Result{Reason: reason}
	if a.outbox != nil {
		attempted, failed := a.outbox.RedeliverPending(ctx)
		res.Redelivered = attempted - failed
	}

	known, err := a.db.KnownStatuses(ctx, a.id.DeviceID)
	if err != nil {
		a.logger.Error("failed to collect statuses", zap.Error(err))
		return res
	}
	updates, err := a.relay.SyncStatuses(ctx, known)
	if err != nil {
		if errors.Is(err, errors.ErrPeerNotFound) {
			a.logger.Debug("no peer registered", zap.String("reason", reason))
		} else {
			a.logger.Warn("status exchange failed", zap.String("reason", reason), zap.Error(err))
		}
		return res
	}

	for _, u := range updates {
		change, err := a.db.UpdateStatus(ctx, u.ID, u.Status, force)
		if err != nil {
			a.logger.Error("failed to apply peer status", zap.String("id", u.ID), zap.Error(err))
			return res
		}
		if change == nil {
			continue
		}
		res.Updated = append(res.Updated, change.ID)
		a.bus.Emit(bus.KindMessageStatus, map[string]string{"id": change.ID, "status": change.To})
	}
	res.Success = true

	a.reconciler.Mark(ctx, CheckpointAppSync)

	// Passes that change nothing are not journaled.
	if len(res.Updated) > 0 || force {
		writeSyncLog(ctx, a.db, &store.SyncLogEntry{
			From:    "AppSync",
			Peer:    peerLabel(a.id),
			Updated: len(res.Updated),
			Reason:  reason,
		}, a.logger)
		a.logger.Info("app sync complete",
			zap.String("reason", reason),
			zap.Bool("force", force),
			zap.Int("updated", len(res.Updated)),
			zap.Int("redelivered", res.Redelivered),
		)
	}
	a.bus.Emit(bus.KindAppSync, res)
	return res
}

// FetchMissing pulls every id the local store lacks from the relay's
// message cache and ingests it. It returns how many messages were stored.
func (a *AppSync) FetchMissing(ctx context.Context, ids []string) int {
	fetched := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		local, err := a.db.GetMessage(ctx, id)
		if err != nil || local != nil {
			continue
		}
		m, err := a.relay.FetchMessage(ctx, id)
		if err != nil {
			a.logger.Debug("missing message not fetched", zap.String("id", id), zap.Error(err))
			continue
		}
		res, err := a.ingester.IngestMessage(ctx, m)
		if err != nil {
			a.logger.Warn("fetched message rejected", zap.String("id", id), zap.Error(err))
			continue
		}
		if res == store.IngestInserted {
			fetched++
		}
	}
	if fetched > 0 {
		a.logger.Info("fetched missing messages", zap.Int("count", fetched), zap.Int("requested", len(ids)))
	}
	return fetched
}
