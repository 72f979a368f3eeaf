package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/store"
)

// Ingester handles idempotent ingestion of relayed messages into the store.
type Ingester struct {
	db     *store.DB
	bus    *bus.Bus
	id     config.Identity
	logger *zap.Logger
}

// NewIngester creates a new message ingester.
func NewIngester(db *store.DB, b *bus.Bus, id config.Identity, logger *zap.Logger) *Ingester {
	return &Ingester{
		db:     db,
		bus:    b,
		id:     id,
		logger: logging.OrNop(logger).Named("ingest"),
	}
}

// IngestMessage merges one relayed message (idempotent).
func (e *Ingester) IngestMessage(ctx context.Context, msg *store.Message) (store.IngestResult, error) {
	if msg == nil {
		return store.IngestUnchanged, errors.Wrap(errors.ErrMalformedResponse, "empty message envelope")
	}
	result, stored, err := e.db.IngestRemote(ctx, msg, e.id.DeviceID)
	if err != nil {
		return result, errors.Wrapf(err, "ingest %s", msg.ID)
	}

	switch result {
	case store.IngestInserted:
		e.logger.Info("message received",
			zap.String("id", stored.ID),
			zap.String("short_name", stored.ShortName),
			zap.String("status", stored.Status),
		)
		e.bus.Emit(bus.KindMessageUpserted, map[string]string{"id": stored.ID, "source": stored.Source})
	case store.IngestStatusUpdated:
		e.logger.Info("message status from peer", zap.String("id", stored.ID), zap.String("status", stored.Status))
		e.bus.Emit(bus.KindMessageStatus, map[string]string{"id": stored.ID, "status": stored.Status})
	}
	return result, nil
}

// IngestBatch ingests msgs and returns how many changed local state.
func (e *Ingester) IngestBatch(ctx context.Context, msgs []*store.Message) (int, error) {
	changed := 0
	for _, m := range msgs {
		res, err := e.IngestMessage(ctx, m)
		if err != nil {
			return changed, err
		}
		if res != store.IngestUnchanged {
			changed++
		}
	}
	return changed, nil
}
