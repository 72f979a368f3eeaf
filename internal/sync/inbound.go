package sync

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/status"
	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/transport"
	"github.com/matheus3301/remotememo/internal/trust"
)

const (
	inboundBackoffMin = 500 * time.Millisecond
	inboundBackoffMax = 30 * time.Second
)

// Inbound keeps one subscription to the relay open at all times and
// dispatches every envelope it receives.
type Inbound struct {
	db         *store.DB
	sub        Subscriber
	ingester   *Ingester
	machine    *status.Machine
	bus        *bus.Bus
	reconciler *Reconciler
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewInbound creates an inbound poller.
func NewInbound(db *store.DB, sub Subscriber, ing *Ingester, m *status.Machine, b *bus.Bus, rec *Reconciler, logger *zap.Logger) *Inbound {
	return &Inbound{
		db:         db,
		sub:        sub,
		ingester:   ing,
		machine:    m,
		bus:        b,
		reconciler: rec,
		logger:     logging.OrNop(logger).Named("inbound"),
	}
}

// Start begins polling.
func (in *Inbound) Start(ctx context.Context) {
	ctx, in.cancel = context.WithCancel(ctx)
	in.done = make(chan struct{})
	go in.loop(ctx)
}

// Stop cancels the outstanding subscription and waits for the loop to exit.
func (in *Inbound) Stop() {
	if in.cancel == nil {
		return
	}
	in.cancel()
	<-in.done
}

func (in *Inbound) loop(ctx context.Context) {
	defer close(in.done)
	backoff := inboundBackoffMin

	for {
		if ctx.Err() != nil {
			return
		}
		env, err := in.sub.Subscribe(ctx)
		if ctx.Err() != nil {
			// Anything that arrived after cancellation is discarded.
			return
		}
		if err != nil {
			in.logger.Debug("subscribe failed", zap.Duration("retry_in", backoff), zap.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, inboundBackoffMax)
			continue
		}
		backoff = inboundBackoffMin
		if env == nil {
			continue
		}
		if err := in.HandleEnvelope(ctx, env); err != nil {
			in.logger.Warn("envelope rejected", zap.String("kind", env.Kind), zap.Error(err))
		}
	}
}

// HandleEnvelope applies one inbound envelope. A chain mismatch is recorded
// and returned; the local chain is left untouched.
func (in *Inbound) HandleEnvelope(ctx context.Context, env *transport.Envelope) error {
	defer in.reconciler.Mark(ctx, CheckpointInbound)

	switch env.Kind {
	case transport.KindBlock:
		return in.handleBlock(ctx, env)
	case transport.KindMessage:
		_, err := in.ingester.IngestMessage(ctx, env.Message)
		return err
	default:
		return errors.Wrapf(errors.ErrMalformedResponse, "unknown envelope kind %q", env.Kind)
	}
}

func (in *Inbound) handleBlock(ctx context.Context, env *transport.Envelope) error {
	if env.Block == nil {
		return errors.Wrap(errors.ErrMalformedResponse, "block envelope without block")
	}
	b := *env.Block

	var prev trust.Ledger
	if tip, err := in.db.TipBlock(ctx); err != nil {
		return err
	} else if tip != nil {
		prev = tip.Ledger
	}

	appended, err := in.db.AppendIfExtends(ctx, b)
	switch {
	case errors.Is(err, errors.ErrChainMismatch):
		in.logger.Warn("inbound block does not extend local chain",
			zap.Int64("block", b.BlockNumber),
			zap.String("sender", env.SenderID),
		)
		setIndicator(in.machine, status.Idle, in.logger)
		writeSyncLog(ctx, in.db, &store.SyncLogEntry{From: "LedgerSync", Peer: env.SenderID, Reason: "chain mismatch"}, in.logger)
		in.bus.Emit(bus.KindChainMismatch, map[string]any{"block": b.BlockNumber, "sender": env.SenderID})
		return err
	case err != nil:
		return err
	}

	setIndicator(in.machine, status.OK, in.logger)
	if !appended {
		return nil
	}
	in.logger.Info("block appended from peer", zap.Int64("block", b.BlockNumber), zap.String("hash", b.Hash))
	added, updated, deleted := trust.Changes(prev, b.Ledger)
	writeSyncLog(ctx, in.db, &store.SyncLogEntry{
		From: "LedgerSync", Peer: env.SenderID,
		Added: added, Updated: updated, Deleted: deleted,
	}, in.logger)
	in.bus.Emit(bus.KindChainAppended, map[string]any{"block": b.BlockNumber, "hash": b.Hash})
	return nil
}
