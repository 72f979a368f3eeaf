package transport

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
)

// WSSubscriber receives envelopes over the relay's /ws/subscribe stream.
// The connection is dialed lazily and redialed after any read failure.
type WSSubscriber struct {
	url     string
	timeout time.Duration
	dialer  websocket.Dialer
	logger  *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewWSSubscriber creates a websocket inbound channel. timeout bounds one
// wait for an envelope, like the long-poll window.
func NewWSSubscriber(baseURL, deviceID string, timeout time.Duration, logger *zap.Logger) *WSSubscriber {
	if timeout <= 0 {
		timeout = 35 * time.Second
	}
	u := WebsocketURL(strings.TrimRight(baseURL, "/")) + "/ws/subscribe?deviceId=" + url.QueryEscape(deviceID)
	return &WSSubscriber{
		url:     u,
		timeout: timeout,
		dialer:  websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger:  logging.OrNop(logger).Named("ws"),
	}
}

// Subscribe waits for the next envelope. A nil envelope with a nil error
// means the wait window elapsed without traffic.
func (s *WSSubscriber) Subscribe(ctx context.Context) (*Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		conn, _, err := s.dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			return nil, errors.Wrap(err, "dial relay websocket")
		}
		s.logger.Debug("websocket connected", zap.String("url", s.url))
		s.conn = conn
	}

	done := make(chan struct{})
	defer close(done)
	conn := s.conn
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(s.timeout))
	var env Envelope
	err := conn.ReadJSON(&env)
	if err == nil {
		return &env, nil
	}

	// Any read failure leaves the connection unusable.
	_ = conn.Close()
	s.conn = nil

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return nil, nil
	}
	return nil, errors.Wrap(err, "read relay websocket")
}

// Close drops the current connection.
func (s *WSSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn == nil {
		return nil
	}
	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := s.conn.Close()
	s.conn = nil
	return err
}
