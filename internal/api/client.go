package api

import (
	"context"
	"io"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/trust"
)

// Client is a typed client for the control service.
type Client struct {
	conn *grpc.ClientConn
}

// Dial connects to the daemon's Unix domain socket. The connection is lazy;
// the first call reports an unreachable daemon.
func Dial(socketPath string) (*Client, error) {
	conn, err := grpc.NewClient(
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return nil, errors.Wrap(err, "dial daemon")
	}
	return &Client{conn: conn}, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) call(ctx context.Context, method string, in any, out any) error {
	return c.conn.Invoke(ctx, fullMethod(method), in, out)
}

func (c *Client) callStruct(ctx context.Context, method string, in any, v any) error {
	out := &structpb.Struct{}
	if err := c.call(ctx, method, in, out); err != nil {
		return err
	}
	return fromStruct(out, v)
}

// Status returns the daemon's sync status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var st Status
	if err := c.callStruct(ctx, "GetStatus", &emptypb.Empty{}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ForceSync runs a forced AppSync pass.
func (c *Client) ForceSync(ctx context.Context, reason string) (*SyncReport, error) {
	var r SyncReport
	if err := c.callStruct(ctx, "ForceSync", wrapperspb.String(reason), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Blocks returns the local chain in creation order.
func (c *Client) Blocks(ctx context.Context) ([]trust.Block, error) {
	var l list[trust.Block]
	if err := c.callStruct(ctx, "ListBlocks", &emptypb.Empty{}, &l); err != nil {
		return nil, err
	}
	return l.Items, nil
}

// VerifyChain checks local chain continuity.
func (c *Client) VerifyChain(ctx context.Context) (*ChainReport, error) {
	var r ChainReport
	if err := c.callStruct(ctx, "VerifyChain", &emptypb.Empty{}, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// SyncLogs returns journal entries, newest first. limit <= 0 means all.
func (c *Client) SyncLogs(ctx context.Context, limit int) ([]store.SyncLogEntry, error) {
	var l list[store.SyncLogEntry]
	if err := c.callStruct(ctx, "ListSyncLogs", wrapperspb.Int32(int32(limit)), &l); err != nil {
		return nil, err
	}
	return l.Items, nil
}

// ClearSyncLogs empties the journal and returns the number of removed entries.
func (c *Client) ClearSyncLogs(ctx context.Context) (int64, error) {
	out := &wrapperspb.Int64Value{}
	if err := c.call(ctx, "ClearSyncLogs", &emptypb.Empty{}, out); err != nil {
		return 0, err
	}
	return out.GetValue(), nil
}

// Messages lists the message set without audio payloads.
func (c *Client) Messages(ctx context.Context) ([]store.Message, error) {
	var l list[store.Message]
	if err := c.callStruct(ctx, "ListMessages", &emptypb.Empty{}, &l); err != nil {
		return nil, err
	}
	return l.Items, nil
}

// Send queues a new message.
func (c *Client) Send(ctx context.Context, d Draft) (*store.Message, error) {
	in, err := toStruct(d)
	if err != nil {
		return nil, err
	}
	var m store.Message
	if err := c.callStruct(ctx, "SendMessage", in, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// MarkPlayed flags a message as played.
func (c *Client) MarkPlayed(ctx context.Context, id string) (*store.Message, error) {
	var m store.Message
	if err := c.callStruct(ctx, "MarkPlayed", wrapperspb.String(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Watch streams events under namespace ("" for all) to fn until ctx ends,
// the stream fails or fn returns an error.
func (c *Client) Watch(ctx context.Context, namespace string, fn func(Event) error) error {
	stream, err := c.conn.NewStream(ctx, &ControlServiceDesc.Streams[0], fullMethod("WatchEvents"))
	if err != nil {
		return err
	}
	if err := stream.SendMsg(wrapperspb.String(namespace)); err != nil {
		return err
	}
	if err := stream.CloseSend(); err != nil {
		return err
	}
	for {
		body := &structpb.Struct{}
		if err := stream.RecvMsg(body); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		var evt Event
		if err := fromStruct(body, &evt); err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}
