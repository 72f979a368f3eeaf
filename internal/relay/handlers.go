package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/transport"
)

// POST /messages
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var m store.Message
	if !readJSON(w, r, &m) {
		return
	}
	if m.ID == "" || m.ShortName == "" {
		writeError(w, http.StatusBadRequest, "Missing id or shortName")
		return
	}

	poster := r.URL.Query().Get("deviceId")
	if poster == "" {
		poster = m.SenderID
	}
	if poster != "" {
		s.registry.Touch(poster)
	}
	s.cache.Put(m)

	targets := messageTargets(&m, poster)
	if len(targets) == 0 {
		targets = s.registry.Others(poster)
	}
	for _, id := range targets {
		env := transport.Envelope{Kind: transport.KindMessage, SenderID: poster, Message: &m}
		if s.mailboxes.Push(id, env) {
			s.logger.Warn("mailbox overflow, oldest envelope dropped", zap.String("device", id))
		}
	}

	s.logger.Info("message relayed",
		zap.String("id", m.ID),
		zap.String("short_name", m.ShortName),
		zap.String("status", m.Status),
		zap.Int("targets", len(targets)),
	)
	_ = writeJSON(w, http.StatusCreated, transport.RelayAck{Message: "Message relayed"})
}

// messageTargets returns the parties of m other than the poster.
func messageTargets(m *store.Message, poster string) []string {
	var out []string
	for _, id := range []string{m.ReceiverID, m.SenderID} {
		if id != "" && id != poster {
			out = append(out, id)
		}
	}
	return out
}

// GET /subscribe?deviceId=
func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	id := r.URL.Query().Get("deviceId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing deviceId")
		return
	}
	s.registry.Touch(id)

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.SubscribeWait)
	defer cancel()
	env := s.mailboxes.Pop(ctx, id)
	if r.Context().Err() != nil {
		if env != nil {
			s.mailboxes.Push(id, *env)
		}
		return
	}
	_ = writeJSON(w, http.StatusOK, env)
}

// GET /ws/subscribe?deviceId=
func (s *Server) handleWSSubscribe(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("deviceId")
	if id == "" {
		writeError(w, http.StatusBadRequest, "Missing deviceId")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	// Reader: only control frames are expected; any error ends the session.
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	s.logger.Info("websocket subscriber connected", zap.String("device", id))
	for {
		s.registry.Touch(id)
		waitCtx, waitCancel := context.WithTimeout(ctx, s.opts.SubscribeWait)
		env := s.mailboxes.Pop(waitCtx, id)
		waitCancel()

		if ctx.Err() != nil {
			if env != nil {
				s.mailboxes.Push(id, *env)
			}
			s.logger.Info("websocket subscriber gone", zap.String("device", id))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if env == nil {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
			continue
		}
		if err := conn.WriteJSON(env); err != nil {
			s.mailboxes.Push(id, *env)
			s.logger.Warn("websocket write failed", zap.String("device", id), zap.Error(err))
			return
		}
	}
}

type syncRequest struct {
	DeviceID      string               `json:"deviceId"`
	KnownStatuses *[]store.StatusEntry `json:"knownStatuses"`
}

// POST /sync
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req syncRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.DeviceID == "" || req.KnownStatuses == nil {
		writeError(w, http.StatusBadRequest, "Invalid sync payload")
		return
	}

	updates, found := s.registry.ReportStatuses(req.DeviceID, *req.KnownStatuses)
	if updates == nil {
		updates = []store.StatusEntry{}
	}
	s.logger.Debug("status sync",
		zap.String("device", req.DeviceID),
		zap.Int("known", len(*req.KnownStatuses)),
		zap.Int("updates", len(updates)),
		zap.Bool("peer_found", found),
	)
	_ = writeJSON(w, http.StatusOK, transport.StatusSyncResponse{StatusUpdates: &updates, PeerFound: found})
}

// POST /ledger-sync
func (s *Server) handleLedgerSync(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var req transport.LedgerSyncRequest
	if !readJSON(w, r, &req) {
		return
	}
	if req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "Missing senderId")
		return
	}

	peer := s.registry.ExchangeBlock(req.SenderID, req.Block)
	// Only a block both devices offered is pushed; the sender persists it on
	// this reply.
	if req.Block != nil && peer != nil && peer.Hash == req.Block.Hash {
		for _, id := range s.registry.Others(req.SenderID) {
			b := *req.Block
			s.mailboxes.Push(id, transport.Envelope{Kind: transport.KindBlock, SenderID: req.SenderID, Block: &b})
		}
	}
	_ = writeJSON(w, http.StatusOK, transport.LedgerSyncResponse{Block: peer})
}

// GET /message/{id}
func (s *Server) handleGetMessage(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	m, ok := s.cache.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "Message not found")
		return
	}
	_ = writeJSON(w, http.StatusOK, m)
}

// GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"devices": s.registry.Len(),
		"dropped": s.mailboxes.Dropped(),
	})
}
