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
	"github.com/matheus3301/remotememo/internal/status"
	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/trust"
)

// Outcome is the result of one ledger cycle.
type Outcome string

const (
	OutcomeMatched    Outcome = "matched"
	OutcomeOverridden Outcome = "overridden"
	OutcomeBehind     Outcome = "diverged"
	OutcomeFailed     Outcome = "failed"
)

// ChainRepairer is what the ledger scheduler calls after adopting the
// peer's chain.
type ChainRepairer interface {
	FetchMissing(ctx context.Context, ids []string) int
	ForceSync(ctx context.Context, reason string) Result
}

// LedgerScheduler exchanges the current block with the peer every tick and
// decides whether to persist it, adopt the peer's chain or wait.
type LedgerScheduler struct {
	db          *store.DB
	relay       Relay
	machine     *status.Machine
	repair      ChainRepairer
	bus         *bus.Bus
	id          config.Identity
	interval    time.Duration
	maxFailures int
	reconciler  *Reconciler
	logger      *zap.Logger
	cancel      context.CancelFunc

	mu       gosync.Mutex
	failures int
}

// LedgerOptions holds the ledger scheduler's tunables.
type LedgerOptions struct {
	Interval    time.Duration
	MaxFailures int
}

// NewLedgerScheduler creates a ledger scheduler.
func NewLedgerScheduler(db *store.DB, relay Relay, m *status.Machine, repair ChainRepairer, b *bus.Bus, id config.Identity, opts LedgerOptions, rec *Reconciler, logger *zap.Logger) *LedgerScheduler {
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	return &LedgerScheduler{
		db:          db,
		relay:       relay,
		machine:     m,
		repair:      repair,
		bus:         b,
		id:          id,
		interval:    opts.Interval,
		maxFailures: opts.MaxFailures,
		reconciler:  rec,
		logger:      logging.OrNop(logger).Named("ledger_sync"),
	}
}

// Start begins the periodic exchange.
func (l *LedgerScheduler) Start(ctx context.Context) {
	ctx, l.cancel = context.WithCancel(ctx)
	go l.loop(ctx)
}

// Stop stops the scheduler loop.
func (l *LedgerScheduler) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
}

func (l *LedgerScheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.RunOnce(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Failures returns the consecutive failure count.
func (l *LedgerScheduler) Failures() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failures
}

// RunOnce performs one ledger cycle. The device offers its current block:
// the tip while the message set is unchanged, otherwise the block that would
// extend it. A block is persisted only once the peer offers the same hash.
func (l *LedgerScheduler) RunOnce(ctx context.Context) Outcome {
	setIndicator(l.machine, status.Syncing, l.logger)

	c, err := l.candidate(ctx)
	if err != nil {
		l.logger.Error("failed to build candidate block", zap.Error(err))
		return l.fail(err)
	}

	peer, err := l.relay.ExchangeBlock(ctx, c.current)
	if err == nil && peer == nil {
		err = errors.Wrap(errors.ErrMalformedResponse, "peer returned no block")
	}
	if err == nil && trust.BlockHash(peer.Ledger, peer.PreviousHash, peer.BlockNumber) != peer.Hash {
		err = errors.Wrapf(errors.ErrMalformedResponse, "peer block %d hash does not match its content", peer.BlockNumber)
	}
	if err != nil {
		return l.fail(err)
	}

	l.mu.Lock()
	l.failures = 0
	l.mu.Unlock()
	l.reconciler.Mark(ctx, CheckpointLedgerSync)

	switch {
	case peer.Hash == c.current.Hash:
		appended, err := l.db.AppendBlock(ctx, c.current)
		if err != nil {
			l.logger.Error("failed to persist block", zap.Error(err))
			setIndicator(l.machine, status.Idle, l.logger)
			return OutcomeFailed
		}
		if appended {
			var prev trust.Ledger
			if c.tip != nil {
				prev = c.tip.Ledger
			}
			added, updated, deleted := trust.Changes(prev, c.current.Ledger)
			writeSyncLog(ctx, l.db, &store.SyncLogEntry{
				From: "LedgerSync", Peer: peerLabel(l.id),
				Added: added, Updated: updated, Deleted: deleted,
			}, l.logger)
			l.bus.Emit(bus.KindChainAppended, map[string]any{"block": c.current.BlockNumber, "hash": c.current.Hash})
		}
		setIndicator(l.machine, status.OK, l.logger)
		return OutcomeMatched

	case peer.BlockNumber > c.next.BlockNumber:
		if err := l.db.OverwriteWithSingle(ctx, *peer); err != nil {
			l.logger.Error("failed to adopt peer chain", zap.Error(err))
			setIndicator(l.machine, status.Idle, l.logger)
			return OutcomeFailed
		}
		l.logger.Warn("local chain replaced by peer's",
			zap.Int64("local_block", c.next.BlockNumber),
			zap.Int64("peer_block", peer.BlockNumber),
		)
		added, updated, deleted := trust.Changes(c.ledger, peer.Ledger)
		writeSyncLog(ctx, l.db, &store.SyncLogEntry{
			From: "LedgerSync", Peer: peerLabel(l.id),
			Added: added, Updated: updated, Deleted: deleted,
			Reason: "chain override",
		}, l.logger)
		l.bus.Emit(bus.KindChainOverridden, map[string]any{"block": peer.BlockNumber, "hash": peer.Hash})
		setIndicator(l.machine, status.OK, l.logger)

		if l.repair != nil {
			if diff := trust.DiffLedgers(c.ledger, peer.Ledger); len(diff.MissingMessages) > 0 {
				l.repair.FetchMissing(ctx, diff.MissingMessages)
			}
			l.repair.ForceSync(ctx, "chain override")
		}
		return OutcomeOverridden

	default:
		l.logger.Debug("peer chain not ahead, waiting",
			zap.Int64("local_block", c.current.BlockNumber),
			zap.Int64("peer_block", peer.BlockNumber),
		)
		setIndicator(l.machine, status.Idle, l.logger)
		return OutcomeBehind
	}
}

type candidate struct {
	ledger  trust.Ledger
	tip     *trust.Block
	next    trust.Block
	current trust.Block
}

// candidate prunes expired blocks and snapshots the current message set
// against the persisted tip.
func (l *LedgerScheduler) candidate(ctx context.Context) (candidate, error) {
	retention, err := l.db.Retention(ctx)
	if err != nil {
		return candidate{}, err
	}
	if n, err := l.db.PruneBlocksOlderThan(ctx, retention); err != nil {
		return candidate{}, err
	} else if n > 0 {
		l.logger.Debug("pruned expired blocks", zap.Int64("count", n))
	}

	msgs, err := l.db.ListMessages(ctx)
	if err != nil {
		return candidate{}, err
	}
	ledger := trust.BuildLedger(store.Contents(msgs))
	tip, err := l.db.TipBlock(ctx)
	if err != nil {
		return candidate{}, err
	}
	return candidate{
		ledger:  ledger,
		tip:     tip,
		next:    trust.NextBlock(ledger, tip),
		current: trust.CurrentBlock(ledger, tip),
	}, nil
}

func (l *LedgerScheduler) fail(err error) Outcome {
	l.mu.Lock()
	l.failures++
	n := l.failures
	l.mu.Unlock()

	l.logger.Debug("ledger exchange failed", zap.Int("consecutive", n), zap.Error(err))
	if n >= l.maxFailures {
		setIndicator(l.machine, status.Idle, l.logger)
	}
	return OutcomeFailed
}
