package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/trust"
)

func newClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Options{BaseURL: srv.URL, DeviceID: "A", RequestTimeout: 2 * time.Second, SubscribeTimeout: 2 * time.Second, Logger: zaptest.NewLogger(t)})
}

func TestSyncStatuses(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sync", r.URL.Path)
		var req StatusSyncRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "A", req.DeviceID)
		assert.Len(t, req.KnownStatuses, 1)
		_ = json.NewEncoder(w).Encode(StatusSyncResponse{
			StatusUpdates: &[]store.StatusEntry{{ID: "m1", Status: "delivered"}},
			PeerFound:     true,
		})
	}))

	updates, err := c.SyncStatuses(context.Background(), []store.StatusEntry{{ID: "m1", Status: "unread"}})
	require.NoError(t, err)
	assert.Equal(t, []store.StatusEntry{{ID: "m1", Status: "delivered"}}, updates)
}

func TestSyncStatusesPeerNotFound(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"statusUpdates":[],"peerFound":false}`))
	}))

	_, err := c.SyncStatuses(context.Background(), nil)
	assert.True(t, errors.Is(err, errors.ErrPeerNotFound), "err = %v", err)
}

func TestSyncStatusesMalformed(t *testing.T) {
	for name, body := range map[string]string{
		"not json":      `<html>`,
		"wrong shape":   `{"statusUpdates":"nope","peerFound":true}`,
		"missing field": `{"statusUpdates":[{"id":"m1"}],"peerFound":true}`,
		"no updates":    `{"peerFound":true}`,
		"null updates":  `{"statusUpdates":null,"peerFound":true}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(body))
			}))
			_, err := c.SyncStatuses(context.Background(), nil)
			assert.True(t, errors.Is(err, errors.ErrMalformedResponse), "err = %v", err)
		})
	}
}

func TestRelayStatusError(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"missing id"}`))
	}))

	err := c.PostMessage(context.Background(), &store.Message{ID: "x"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrRelayStatus))
	assert.Contains(t, err.Error(), "missing id")
}

func TestExchangeBlock(t *testing.T) {
	peer := trust.NextBlock(trust.Ledger{}, nil)
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req LedgerSyncRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "A", req.SenderID)
		assert.NotNil(t, req.Block)
		_ = json.NewEncoder(w).Encode(LedgerSyncResponse{Block: &peer})
	}))

	got, err := c.ExchangeBlock(context.Background(), trust.NextBlock(trust.Ledger{{ID: "m", Status: "read", Hash: "h"}}, nil))
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, peer.Hash, got.Hash)
}

func TestExchangeBlockNull(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"block":null}`))
	}))

	got, err := c.ExchangeBlock(context.Background(), trust.NextBlock(nil, nil))
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestFetchMessageNotFound(t *testing.T) {
	c := newClient(t, http.NotFoundHandler())

	_, err := c.FetchMessage(context.Background(), "ghost")
	assert.True(t, errors.Is(err, errors.ErrNotFound), "err = %v", err)
}

func TestSubscribeNull(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "A", r.URL.Query().Get("deviceId"))
		_, _ = w.Write([]byte("null"))
	}))

	env, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestSubscribeEnvelope(t *testing.T) {
	c := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Envelope{Kind: KindMessage, SenderID: "B", Message: &store.Message{ID: "m1", ShortName: "pills"}})
	}))

	env, err := c.Subscribe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, KindMessage, env.Kind)
	assert.Equal(t, "m1", env.Message.ID)
}

func TestWebsocketURL(t *testing.T) {
	assert.Equal(t, "ws://relay:3000", WebsocketURL("http://relay:3000"))
	assert.Equal(t, "wss://relay", WebsocketURL("https://relay"))
}

func TestWSSubscriber(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ws/subscribe", r.URL.Path)
		assert.Equal(t, "B", r.URL.Query().Get("deviceId"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		_ = conn.WriteJSON(Envelope{Kind: KindBlock, SenderID: "A", Block: &trust.Block{Hash: "abc"}})
		// Hold the connection open until the client goes away.
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	sub := NewWSSubscriber(srv.URL, "B", 300*time.Millisecond, zaptest.NewLogger(t))
	t.Cleanup(func() { _ = sub.Close() })

	env, err := sub.Subscribe(context.Background())
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, KindBlock, env.Kind)
	assert.Equal(t, "abc", env.Block.Hash)

	// No more traffic: the window elapses quietly.
	env, err = sub.Subscribe(context.Background())
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestWSSubscriberCancel(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}))
	t.Cleanup(srv.Close)

	sub := NewWSSubscriber(srv.URL, "B", 10*time.Second, nil)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	_, err := sub.Subscribe(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
