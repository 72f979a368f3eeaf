// Package relay implements the rendezvous server the devices reconcile
// through. It holds no durable state: a bounded registry of the last
// statuses and block each device reported, per-device inbound queues and a
// short-lived cache of relayed messages.
package relay

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/logging"
)

const maxBodyBytes = 16 << 20 // audio payloads ride inside messages

// Options bounds the relay's memory and traffic.
type Options struct {
	MaxDevices    int
	DeviceTTL     time.Duration
	MailboxSize   int
	MessageCache  int
	MessageTTL    time.Duration
	RatePerSecond float64
	RateBurst     int
	SubscribeWait time.Duration
}

// DefaultOptions mirrors config.DefaultRelay with the fixed windows.
func DefaultOptions() Options {
	return OptionsFromConfig(config.DefaultRelay())
}

// OptionsFromConfig converts the TOML relay section.
func OptionsFromConfig(c config.Relay) Options {
	return Options{
		MaxDevices:    c.MaxDevices,
		DeviceTTL:     c.DeviceTTL.Duration,
		MailboxSize:   c.MailboxSize,
		MessageCache:  c.MessageCache,
		MessageTTL:    24 * time.Hour,
		RatePerSecond: c.RatePerSecond,
		RateBurst:     c.RateBurst,
		SubscribeWait: 30 * time.Second,
	}
}

// Server is the relay HTTP server.
type Server struct {
	opts      Options
	registry  *Registry
	mailboxes *Mailboxes
	cache     *MessageCache
	limiters  *limiters
	upgrader  websocket.Upgrader
	logger    *zap.Logger
}

// New creates a relay server.
func New(opts Options, logger *zap.Logger) *Server {
	s := &Server{
		opts:      opts,
		registry:  NewRegistry(opts.MaxDevices, opts.DeviceTTL),
		mailboxes: NewMailboxes(opts.MailboxSize, opts.MaxDevices*2),
		cache:     NewMessageCache(opts.MessageCache, opts.MessageTTL),
		limiters:  newLimiters(opts.RatePerSecond, opts.RateBurst, opts.DeviceTTL),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  2048,
			WriteBufferSize: 2048,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.OrNop(logger),
	}
	s.registry.OnEvict(func(id string) {
		s.logger.Info("device evicted", zap.String("device", id))
		s.mailboxes.Remove(id)
	})
	return s
}

// Registry exposes the peer status registry.
func (s *Server) Registry() *Registry { return s.registry }

// Handler returns the relay's routes wrapped in logging and rate limiting.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/messages", s.handlePostMessage)
	mux.HandleFunc("/subscribe", s.handleSubscribe)
	mux.HandleFunc("/ws/subscribe", s.handleWSSubscribe)
	mux.HandleFunc("/sync", s.handleSync)
	mux.HandleFunc("/ledger-sync", s.handleLedgerSync)
	mux.HandleFunc("/message/{id}", s.handleGetMessage)
	mux.HandleFunc("/healthz", s.handleHealth)
	return s.withRateLimit(s.withLogging(mux))
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" && !s.limiters.allow(callerKey(r)) {
			writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", zap.String("addr", ln.Addr().String()))
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("relay shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
