// Package sync keeps a device's message set and TRUST chain reconciled with
// its peer. Four loops run concurrently: the status scheduler, the ledger
// scheduler, the inbound poller and the periodic AppSync pass. They share
// the store and the indicator machine and never return errors to callers;
// failures degrade the indicator and the next tick retries.
package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/status"
	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/transport"
	"github.com/matheus3301/remotememo/internal/trust"
)

// Relay is the request/response side of the relay client.
type Relay interface {
	SyncStatuses(ctx context.Context, known []store.StatusEntry) ([]store.StatusEntry, error)
	ExchangeBlock(ctx context.Context, b trust.Block) (*trust.Block, error)
	FetchMessage(ctx context.Context, id string) (*store.Message, error)
}

// Subscriber is the inbound channel: long-poll or websocket.
type Subscriber interface {
	Subscribe(ctx context.Context) (*transport.Envelope, error)
}

// Redeliverer re-posts messages the relay has not accepted yet.
type Redeliverer interface {
	RedeliverPending(ctx context.Context) (attempted, failed int)
}

func setIndicator(m *status.Machine, to status.Indicator, logger *zap.Logger) {
	if err := m.Transition(to); err != nil {
		logger.Debug("indicator transition rejected", zap.String("to", string(to)), zap.Error(err))
	}
}

// peerLabel names the counterpart in journal entries.
func peerLabel(id config.Identity) string {
	if id.PeerID != "" {
		return id.PeerID
	}
	return "relay"
}

func writeSyncLog(ctx context.Context, db *store.DB, entry *store.SyncLogEntry, logger *zap.Logger) {
	if err := db.AppendSyncLog(ctx, entry); err != nil {
		logger.Error("failed to write sync log", zap.Error(err))
	}
}
