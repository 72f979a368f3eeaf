// Package outbox delivers locally originated messages through the relay and
// re-delivers the ones that have not reached it yet.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/status"
	"github.com/matheus3301/remotememo/internal/store"
)

// Relay is the part of the relay client the outbox needs.
type Relay interface {
	PostMessage(ctx context.Context, m *store.Message) error
}

// Draft is a message the user is about to send.
type Draft struct {
	ReceiverID   string
	ShortName    string
	Text         string
	AudioPayload string
	Date         string
	Time         string
}

// Sender posts messages to the relay and tracks their delivery status.
type Sender struct {
	db     *store.DB
	relay  Relay
	bus    *bus.Bus
	id     config.Identity
	logger *zap.Logger
}

// NewSender creates a new outbox sender.
func NewSender(db *store.DB, relay Relay, b *bus.Bus, id config.Identity, logger *zap.Logger) *Sender {
	return &Sender{
		db:     db,
		relay:  relay,
		bus:    b,
		id:     id,
		logger: logging.OrNop(logger).Named("outbox"),
	}
}

// Send posts m to the relay. On success a not_delivered message moves to
// pending; on failure it stays not_delivered for the next re-delivery.
func (s *Sender) Send(ctx context.Context, m *store.Message) error {
	if err := s.relay.PostMessage(ctx, m); err != nil {
		s.logger.Warn("relay post failed", zap.String("id", m.ID), zap.Error(err))
		s.bus.Emit(bus.KindMessageSendFailed, map[string]string{"id": m.ID, "error": err.Error()})
		return err
	}

	if m.Status == status.NotDelivered {
		change, err := s.db.UpdateStatus(ctx, m.ID, status.Pending, false)
		if err != nil {
			return errors.Wrapf(err, "mark %s pending", m.ID)
		}
		if change != nil {
			m.Status = change.To
			m.Hash = change.Hash
		}
	}

	s.logger.Info("message posted", zap.String("id", m.ID), zap.String("status", m.Status))
	s.bus.Emit(bus.KindMessageSent, map[string]string{"id": m.ID, "status": m.Status})
	return nil
}

// RedeliverPending re-posts every not_delivered message this device sent.
func (s *Sender) RedeliverPending(ctx context.Context) (attempted, failed int) {
	msgs, err := s.db.ListUndelivered(ctx, s.id.DeviceID)
	if err != nil {
		s.logger.Error("failed to read undelivered messages", zap.Error(err))
		return 0, 0
	}

	for i := range msgs {
		if ctx.Err() != nil {
			break
		}
		attempted++
		if err := s.Send(ctx, &msgs[i]); err != nil {
			failed++
		}
	}
	if attempted > 0 {
		s.logger.Info("re-delivery pass", zap.Int("attempted", attempted), zap.Int("failed", failed))
	}
	return attempted, failed
}

// Queue stores a new local message and attempts delivery once. A failed
// delivery is not an error: the message stays not_delivered.
func (s *Sender) Queue(ctx context.Context, d Draft) (*store.Message, error) {
	if d.ShortName == "" {
		return nil, errors.New("short name is required")
	}
	receiver := d.ReceiverID
	if receiver == "" {
		receiver = s.id.PeerID
	}
	if receiver == "" {
		return nil, errors.WithHint(errors.New("no receiver"), "set peer_id in the profile config or pass a receiver")
	}

	now := time.Now()
	m := &store.Message{
		ID:           uuid.NewString(),
		SenderID:     s.id.DeviceID,
		ReceiverID:   receiver,
		ShortName:    d.ShortName,
		Text:         d.Text,
		AudioPayload: d.AudioPayload,
		Date:         d.Date,
		Time:         d.Time,
		Status:       status.NotDelivered,
		Source:       store.SourceLocal,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if m.Date == "" {
		m.Date = now.Format("2006-01-02")
	}
	if m.Time == "" {
		m.Time = now.Format("15:04")
	}
	if err := s.db.UpsertMessage(ctx, m); err != nil {
		return nil, err
	}
	s.bus.Emit(bus.KindMessageUpserted, map[string]string{"id": m.ID, "source": m.Source})

	_ = s.Send(ctx, m)
	return m, nil
}

// MarkPlayed records that the user played a message and re-posts it so the
// sender observes the new status.
func (s *Sender) MarkPlayed(ctx context.Context, id string) (*store.Message, error) {
	m, err := s.db.MarkPlayed(ctx, id)
	if err != nil {
		return nil, err
	}
	s.bus.Emit(bus.KindMessageStatus, map[string]string{"id": m.ID, "status": m.Status})

	if err := s.relay.PostMessage(ctx, m); err != nil {
		s.logger.Warn("played status not relayed", zap.String("id", id), zap.Error(err))
	}
	return m, nil
}
