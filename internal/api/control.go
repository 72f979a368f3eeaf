package api

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/outbox"
	"github.com/matheus3301/remotememo/internal/status"
	"github.com/matheus3301/remotememo/internal/store"
	intsync "github.com/matheus3301/remotememo/internal/sync"
	"github.com/matheus3301/remotememo/internal/trust"
)

// Syncer runs an on-demand forced sync.
type Syncer interface {
	ForceSync(ctx context.Context, reason string) intsync.Result
}

// Mailer creates and updates local messages.
type Mailer interface {
	Queue(ctx context.Context, d outbox.Draft) (*store.Message, error)
	MarkPlayed(ctx context.Context, id string) (*store.Message, error)
}

// ControlOptions holds the control service's collaborators. StatusSync,
// Ledger and Checkpoints may be nil.
type ControlOptions struct {
	Profile     string
	DB          *store.DB
	Bus         *bus.Bus
	Machine     *status.Machine
	Sync        Syncer
	Mailer      Mailer
	StatusSync  interface{ Synced() bool }
	Ledger      interface{ Failures() int }
	Checkpoints *intsync.Reconciler
	Identity    config.Identity
	RelayURL    string
	Logger      *zap.Logger
}

// ControlService implements ControlServer.
type ControlService struct {
	opts      ControlOptions
	startedAt time.Time
	logger    *zap.Logger
}

// NewControlService creates the control service.
func NewControlService(opts ControlOptions) *ControlService {
	return &ControlService{
		opts:      opts,
		startedAt: time.Now(),
		logger:    logging.OrNop(opts.Logger).Named("api"),
	}
}

func (s *ControlService) GetStatus(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	st := Status{
		Profile:     s.opts.Profile,
		DeviceID:    s.opts.Identity.DeviceID,
		PeerID:      s.opts.Identity.PeerID,
		RelayURL:    s.opts.RelayURL,
		Indicator:   string(s.opts.Machine.Current()),
		Checkpoints: map[string]string{},
		UptimeMS:    time.Since(s.startedAt).Milliseconds(),
		TipBlock:    -1,
	}
	if s.opts.StatusSync != nil {
		st.StatusSynced = s.opts.StatusSync.Synced()
	}
	if s.opts.Ledger != nil {
		st.LedgerFailures = s.opts.Ledger.Failures()
	}

	msgs, err := s.opts.DB.ListMessages(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	st.Messages = len(msgs)
	blocks, err := s.opts.DB.Blocks(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	st.Blocks = len(blocks)
	if n := len(blocks); n > 0 {
		st.TipBlock = blocks[n-1].BlockNumber
		st.TipHash = blocks[n-1].Hash
	}

	if s.opts.Checkpoints != nil {
		for _, key := range intsync.Checkpoints {
			at, err := s.opts.Checkpoints.Get(ctx, key)
			if err != nil || at.IsZero() {
				continue
			}
			st.Checkpoints[key] = at.Format(time.RFC3339)
		}
	}
	return encode(st)
}

func (s *ControlService) ForceSync(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	reason := in.GetValue()
	if reason == "" {
		reason = "manual"
	}
	s.logger.Info("forced sync requested", zap.String("reason", reason))
	res := s.opts.Sync.ForceSync(ctx, reason)
	return encode(SyncReport{
		Success:     res.Success,
		Updated:     res.Updated,
		Redelivered: res.Redelivered,
		Reason:      res.Reason,
	})
}

func (s *ControlService) ListBlocks(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	blocks, err := s.opts.DB.Blocks(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(list[trust.Block]{Items: blocks})
}

func (s *ControlService) VerifyChain(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	blocks, err := s.opts.DB.Blocks(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	report := ChainReport{Valid: true, Blocks: len(blocks)}
	if err := trust.VerifyChain(blocks); err != nil {
		report.Valid = false
		report.Error = err.Error()
	}
	return encode(report)
}

func (s *ControlService) ListSyncLogs(ctx context.Context, in *wrapperspb.Int32Value) (*structpb.Struct, error) {
	logs, err := s.opts.DB.ListSyncLogs(ctx, int(in.GetValue()))
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(list[store.SyncLogEntry]{Items: logs})
}

func (s *ControlService) ClearSyncLogs(ctx context.Context, _ *emptypb.Empty) (*wrapperspb.Int64Value, error) {
	n, err := s.opts.DB.ClearSyncLogs(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	s.logger.Info("sync journal cleared", zap.Int64("entries", n))
	return wrapperspb.Int64(n), nil
}

func (s *ControlService) ListMessages(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	msgs, err := s.opts.DB.ListMessages(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	for i := range msgs {
		msgs[i].AudioPayload = ""
	}
	return encode(list[store.Message]{Items: msgs})
}

func (s *ControlService) SendMessage(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var d Draft
	if err := fromStruct(in, &d); err != nil {
		return nil, grpcstatus.Error(codes.InvalidArgument, err.Error())
	}
	if d.ShortName == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "shortName is required")
	}
	m, err := s.opts.Mailer.Queue(ctx, outbox.Draft{
		ReceiverID:   d.ReceiverID,
		ShortName:    d.ShortName,
		Text:         d.Text,
		AudioPayload: d.AudioPayload,
		Date:         d.Date,
		Time:         d.Time,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(m)
}

func (s *ControlService) MarkPlayed(ctx context.Context, in *wrapperspb.StringValue) (*structpb.Struct, error) {
	if in.GetValue() == "" {
		return nil, grpcstatus.Error(codes.InvalidArgument, "message id is required")
	}
	m, err := s.opts.Mailer.MarkPlayed(ctx, in.GetValue())
	if err != nil {
		return nil, toStatus(err)
	}
	return encode(m)
}

// WatchEvents streams bus events whose kind starts with the requested
// namespace until the client goes away.
func (s *ControlService) WatchEvents(in *wrapperspb.StringValue, stream grpc.ServerStream) error {
	ch, unsub := s.opts.Bus.Subscribe(in.GetValue(), 256)
	defer unsub()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return nil
			}
			body, err := toStruct(map[string]any{
				"kind":      evt.Kind,
				"timestamp": evt.Timestamp,
				"payload":   evt.Payload,
			})
			if err != nil {
				s.logger.Debug("event not encodable", zap.String("kind", evt.Kind), zap.Error(err))
				continue
			}
			if err := stream.SendMsg(body); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		}
	}
}

func encode(v any) (*structpb.Struct, error) {
	s, err := toStruct(v)
	if err != nil {
		return nil, grpcstatus.Error(codes.Internal, err.Error())
	}
	return s, nil
}

// toStatus maps domain errors onto gRPC codes.
func toStatus(err error) error {
	switch {
	case errors.Is(err, errors.ErrNotFound):
		return grpcstatus.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return grpcstatus.FromContextError(err).Err()
	default:
		if hints := errors.GetAllHints(err); len(hints) > 0 {
			return grpcstatus.Errorf(codes.FailedPrecondition, "%v (%s)", err, hints[0])
		}
		return grpcstatus.Error(codes.Internal, err.Error())
	}
}
