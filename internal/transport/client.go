package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/trust"
)

// Options configures a Client.
type Options struct {
	BaseURL          string
	DeviceID         string
	RequestTimeout   time.Duration
	SubscribeTimeout time.Duration
	Logger           *zap.Logger
}

// Client talks to the relay on behalf of one device.
type Client struct {
	base      string
	deviceID  string
	http      *http.Client
	subscribe *http.Client
	logger    *zap.Logger
}

// New creates a relay client. Zero timeouts fall back to 10s for requests
// and 35s for long-poll subscriptions.
func New(opts Options) *Client {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.SubscribeTimeout <= 0 {
		opts.SubscribeTimeout = 35 * time.Second
	}
	return &Client{
		base:      strings.TrimRight(opts.BaseURL, "/"),
		deviceID:  opts.DeviceID,
		http:      &http.Client{Timeout: opts.RequestTimeout},
		subscribe: &http.Client{Timeout: opts.SubscribeTimeout},
		logger:    logging.OrNop(opts.Logger).Named("transport"),
	}
}

// DeviceID returns the identity the client reports to the relay.
func (c *Client) DeviceID() string { return c.deviceID }

// PostMessage relays a message to the other party of the conversation.
func (c *Client) PostMessage(ctx context.Context, m *store.Message) error {
	var ack RelayAck
	return c.do(ctx, c.http, http.MethodPost, "/messages?deviceId="+url.QueryEscape(c.deviceID), m, &ack)
}

// SyncStatuses sends the device's known statuses and returns the
// counterpart's differing statuses. Returns ErrPeerNotFound when the relay
// has no live counterpart.
func (c *Client) SyncStatuses(ctx context.Context, known []store.StatusEntry) ([]store.StatusEntry, error) {
	if known == nil {
		known = []store.StatusEntry{}
	}
	var resp StatusSyncResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/sync", StatusSyncRequest{DeviceID: c.deviceID, KnownStatuses: known}, &resp); err != nil {
		return nil, err
	}
	if !resp.PeerFound {
		return nil, errors.ErrPeerNotFound
	}
	if resp.StatusUpdates == nil {
		return nil, errors.Wrap(errors.ErrMalformedResponse, "missing statusUpdates")
	}
	updates := *resp.StatusUpdates
	for _, u := range updates {
		if u.ID == "" || u.Status == "" {
			return nil, errors.Wrapf(errors.ErrMalformedResponse, "status update %+v", u)
		}
	}
	return updates, nil
}

// ExchangeBlock sends the local current block and returns the
// counterpart's latest block. A nil block with a nil error means the relay
// had nothing to offer.
func (c *Client) ExchangeBlock(ctx context.Context, b trust.Block) (*trust.Block, error) {
	var resp LedgerSyncResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/ledger-sync", LedgerSyncRequest{SenderID: c.deviceID, Block: &b}, &resp); err != nil {
		return nil, err
	}
	if resp.Block != nil && resp.Block.Hash == "" {
		return nil, errors.Wrap(errors.ErrMalformedResponse, "block without hash")
	}
	return resp.Block, nil
}

// FetchMessage retrieves a relayed message by id. Returns ErrNotFound when
// the relay does not hold it.
func (c *Client) FetchMessage(ctx context.Context, id string) (*store.Message, error) {
	var m store.Message
	if err := c.do(ctx, c.http, http.MethodGet, "/message/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	if m.ID == "" {
		return nil, errors.Wrap(errors.ErrMalformedResponse, "message without id")
	}
	return &m, nil
}

// Subscribe long-polls for the next inbound envelope. A nil envelope with a
// nil error means the relay's wait window elapsed.
func (c *Client) Subscribe(ctx context.Context) (*Envelope, error) {
	var env *Envelope
	path := "/subscribe?deviceId=" + url.QueryEscape(c.deviceID)
	if err := c.do(ctx, c.subscribe, http.MethodGet, path, nil, &env); err != nil {
		return nil, err
	}
	return env, nil
}

// Close is a no-op for the long-poll channel.
func (c *Client) Close() error { return nil }

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return errors.Wrapf(err, "encode %s", path)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return errors.Wrapf(err, "build %s %s", method, path)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return errors.Wrapf(err, "read %s response", path)
	}

	if resp.StatusCode == http.StatusNotFound && method == http.MethodGet {
		return errors.Wrapf(errors.ErrNotFound, "%s", path)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb ErrorBody
		_ = json.Unmarshal(raw, &eb)
		return errors.Wrapf(errors.ErrRelayStatus, "%s %s: %d %s", method, path, resp.StatusCode, eb.Error)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		c.logger.Debug("malformed relay response", zap.String("path", path), zap.Error(err))
		return errors.Mark(errors.Wrapf(err, "decode %s", path), errors.ErrMalformedResponse)
	}
	return nil
}

func (c *Client) String() string {
	return fmt.Sprintf("relay(%s as %s)", c.base, c.deviceID)
}
