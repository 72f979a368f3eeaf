package sync

import (
	"context"
	"path/filepath"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/matheus3301/remotememo/internal/bus"
	"github.com/matheus3301/remotememo/internal/config"
	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/status"
	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/transport"
	"github.com/matheus3301/remotememo/internal/trust"
)

var identity = config.Identity{DeviceID: "111111", PeerID: "222222"}

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	_, err = db.Migrate()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seed(t *testing.T, db *store.DB, id, st string) *store.Message {
	t.Helper()
	m := &store.Message{
		ID:         id,
		SenderID:   identity.PeerID,
		ReceiverID: identity.DeviceID,
		ShortName:  "pills",
		Text:       "take the blue one",
		Status:     st,
		Source:     store.SourceRemote,
	}
	require.NoError(t, db.UpsertMessage(context.Background(), m))
	return m
}

// fakeRelay is a scriptable Relay.
type fakeRelay struct {
	mu       gosync.Mutex
	updates  []store.StatusEntry
	syncErr  error
	exchange func(trust.Block) (*trust.Block, error)
	messages map[string]*store.Message
	synced   int
	fetched  []string
}

func (f *fakeRelay) SyncStatuses(_ context.Context, _ []store.StatusEntry) ([]store.StatusEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced++
	return f.updates, f.syncErr
}

func (f *fakeRelay) ExchangeBlock(_ context.Context, b trust.Block) (*trust.Block, error) {
	if f.exchange == nil {
		return nil, nil
	}
	return f.exchange(b)
}

func (f *fakeRelay) FetchMessage(_ context.Context, id string) (*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, id)
	if m, ok := f.messages[id]; ok {
		cp := *m
		return &cp, nil
	}
	return nil, errors.Wrapf(errors.ErrNotFound, "message %s", id)
}

type countingRedeliverer struct{ calls int }

func (c *countingRedeliverer) RedeliverPending(context.Context) (int, int) {
	c.calls++
	return 1, 1
}

type chanSubscriber chan *transport.Envelope

func (c chanSubscriber) Subscribe(ctx context.Context) (*transport.Envelope, error) {
	select {
	case env := <-c:
		return env, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func echo(b trust.Block) (*trust.Block, error) { return &b, nil }

func TestStatusSchedulerAppliesPeerStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, "m1", status.Unread)

	relay := &fakeRelay{updates: []store.StatusEntry{{ID: "m1", Status: status.Delivered}}}
	s := NewStatusScheduler(db, relay, bus.New(), identity, time.Second, NewReconciler(db, nil), zaptest.NewLogger(t))

	applied, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.False(t, s.Synced())

	m, err := db.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, status.Delivered, m.Status)
	assert.Equal(t, trust.HashMessage(m.Content()), m.Hash)

	applied, err = s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, applied, "reapplying the same status is a no-op")
	assert.True(t, s.Synced())

	logs, err := db.ListSyncLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1, "only the cycle that applied something is journaled")
	assert.Equal(t, "StatusSync", logs[0].From)
	assert.Equal(t, identity.PeerID, logs[0].Peer)
	assert.Equal(t, 1, logs[0].Updated)
}

func TestStatusSchedulerPeerStatusWinsOverLaterLocal(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, "m1", status.Delivered)
	seed(t, db, "m2", status.DeletedByPeer)

	relay := &fakeRelay{updates: []store.StatusEntry{
		{ID: "m1", Status: status.Unread},
		{ID: "m2", Status: status.Read},
	}}
	s := NewStatusScheduler(db, relay, bus.New(), identity, time.Second, NewReconciler(db, nil), zaptest.NewLogger(t))

	applied, err := s.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	m1, _ := db.GetMessage(ctx, "m1")
	assert.Equal(t, status.Unread, m1.Status)
	m2, _ := db.GetMessage(ctx, "m2")
	assert.Equal(t, status.DeletedByPeer, m2.Status, "tombstone is final")
}

func TestStatusSchedulerPeerNotFound(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, "m1", status.Unread)

	relay := &fakeRelay{
		updates: []store.StatusEntry{{ID: "m1", Status: status.Read}},
		syncErr: errors.ErrPeerNotFound,
	}
	rec := NewReconciler(db, nil)
	s := NewStatusScheduler(db, relay, bus.New(), identity, time.Second, rec, zaptest.NewLogger(t))

	_, err := s.RunOnce(ctx)
	assert.True(t, errors.Is(err, errors.ErrPeerNotFound))
	assert.False(t, s.Synced())

	m, _ := db.GetMessage(ctx, "m1")
	assert.Equal(t, status.Unread, m.Status)

	at, err := rec.Get(ctx, CheckpointStatusSync)
	require.NoError(t, err)
	assert.True(t, at.IsZero())
}

func newLedger(t *testing.T, db *store.DB, relay Relay, repair ChainRepairer) (*LedgerScheduler, *status.Machine) {
	t.Helper()
	b := bus.New()
	m := status.NewMachine(b)
	l := NewLedgerScheduler(db, relay, m, repair, b, identity, LedgerOptions{Interval: time.Second, MaxFailures: 3}, NewReconciler(db, nil), zaptest.NewLogger(t))
	return l, m
}

func TestLedgerMatchAppends(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, "m1", status.Delivered)

	l, m := newLedger(t, db, &fakeRelay{exchange: echo}, nil)
	assert.Equal(t, OutcomeMatched, l.RunOnce(ctx))
	assert.Equal(t, status.OK, m.Current())

	// An unchanged message set re-offers the tip and does not grow the chain.
	assert.Equal(t, OutcomeMatched, l.RunOnce(ctx))
	blocks, err := db.Blocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1)

	_, err = db.UpdateStatus(ctx, "m1", status.Played, false)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMatched, l.RunOnce(ctx))
	blocks, err = db.Blocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, blocks[0].Hash, blocks[1].PreviousHash)
	assert.NoError(t, trust.VerifyChain(blocks))

	logs, err := db.ListSyncLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2, "one entry per appended block")
	assert.Equal(t, "LedgerSync", logs[0].From)
	assert.Equal(t, identity.PeerID, logs[0].Peer)
	assert.Equal(t, 1, logs[0].Updated)
	assert.Equal(t, 1, logs[1].Added)
}

func TestLedgerOffersPersistedTip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	seed(t, db, "m1", status.Delivered)

	var offered []trust.Block
	relay := &fakeRelay{exchange: func(b trust.Block) (*trust.Block, error) {
		offered = append(offered, b)
		return &b, nil
	}}
	l, _ := newLedger(t, db, relay, nil)
	l.RunOnce(ctx)
	l.RunOnce(ctx)

	tip, err := db.TipBlock(ctx)
	require.NoError(t, err)
	require.Len(t, offered, 2)
	assert.Equal(t, tip.Hash, offered[1].Hash)
	assert.Equal(t, offered[0].Hash, offered[1].Hash)
}

func TestLedgerFailuresForceIdle(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	var down = true
	relay := &fakeRelay{exchange: func(b trust.Block) (*trust.Block, error) {
		if down {
			return nil, errors.New("connection refused")
		}
		return &b, nil
	}}
	l, m := newLedger(t, db, relay, nil)

	for i := 1; i <= 2; i++ {
		assert.Equal(t, OutcomeFailed, l.RunOnce(ctx))
		assert.Equal(t, i, l.Failures())
		assert.Equal(t, status.Syncing, m.Current())
	}
	assert.Equal(t, OutcomeFailed, l.RunOnce(ctx))
	assert.Equal(t, status.Idle, m.Current())

	down = false
	assert.Equal(t, OutcomeMatched, l.RunOnce(ctx))
	assert.Zero(t, l.Failures())
	assert.Equal(t, status.OK, m.Current())
}

func TestLedgerNilBlockCountsAsFailure(t *testing.T) {
	db := testDB(t)
	l, _ := newLedger(t, db, &fakeRelay{}, nil)

	assert.Equal(t, OutcomeFailed, l.RunOnce(context.Background()))
	assert.Equal(t, 1, l.Failures())
}

func TestLedgerRejectsTamperedBlock(t *testing.T) {
	db := testDB(t)
	relay := &fakeRelay{exchange: func(b trust.Block) (*trust.Block, error) {
		b.BlockNumber = 9
		return &b, nil
	}}
	l, _ := newLedger(t, db, relay, nil)

	assert.Equal(t, OutcomeFailed, l.RunOnce(context.Background()))
	blocks, _ := db.Blocks(context.Background())
	assert.Empty(t, blocks)
}

func TestLedgerPeerNotAheadIdles(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	peer := trust.BuildBlock(trust.Ledger{{ID: "x", Status: status.Read, Hash: "h"}}, "", 0)
	relay := &fakeRelay{exchange: func(trust.Block) (*trust.Block, error) { return &peer, nil }}
	l, m := newLedger(t, db, relay, nil)

	assert.Equal(t, OutcomeBehind, l.RunOnce(ctx))
	assert.Equal(t, status.Idle, m.Current())
	blocks, _ := db.Blocks(ctx)
	assert.Empty(t, blocks, "nothing persisted")
}

func TestLedgerOverrideThenForcedSync(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := bus.New()
	seed(t, db, "m1", status.Delivered)
	seed(t, db, "m3", status.Delivered)
	_, err := db.AppendBlock(ctx, trust.BuildBlock(trust.Ledger{}, "", 0))
	require.NoError(t, err)

	m2 := &store.Message{ID: "m2", SenderID: identity.PeerID, ReceiverID: identity.DeviceID, ShortName: "walk", Status: status.Pending}
	peerLedger := trust.BuildLedger([]trust.Content{
		{ID: "m1", Status: status.Read, Text: "take the blue one"},
		m2.Content(),
		{ID: "m3", Status: status.Unread, Text: "take the blue one"},
	})
	peer := trust.BuildBlock(peerLedger, "elsewhere", 5)

	relay := &fakeRelay{
		exchange: func(trust.Block) (*trust.Block, error) { return &peer, nil },
		updates: []store.StatusEntry{
			{ID: "m1", Status: status.Read},
			{ID: "m3", Status: status.Unread},
		},
		messages: map[string]*store.Message{"m2": m2},
	}
	ing := NewIngester(db, b, identity, zaptest.NewLogger(t))
	app := NewAppSync(db, relay, nil, ing, b, identity, time.Minute, NewReconciler(db, nil), zaptest.NewLogger(t))
	l, m := newLedger(t, db, relay, app)

	assert.Equal(t, OutcomeOverridden, l.RunOnce(ctx))
	assert.Equal(t, status.OK, m.Current())

	blocks, err := db.Blocks(ctx)
	require.NoError(t, err)
	require.Len(t, blocks, 1, "override keeps only the peer block")
	assert.Equal(t, peer.Hash, blocks[0].Hash)

	got1, err := db.GetMessage(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, status.Read, got1.Status)
	assert.Equal(t, trust.HashMessage(got1.Content()), got1.Hash)

	// The peer's earlier status replaces the local one.
	got3, err := db.GetMessage(ctx, "m3")
	require.NoError(t, err)
	assert.Equal(t, peerLedger.Index()["m3"].Status, got3.Status)
	assert.Equal(t, status.Unread, got3.Status)

	got2, err := db.GetMessage(ctx, "m2")
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, store.SourceRemote, got2.Source)
	assert.Equal(t, status.Delivered, got2.Status, "addressed to us, stored as delivered")
	assert.NotContains(t, relay.fetched, "m1", "known ids are not fetched")

	assert.NotContains(t, relay.fetched, "m3")

	logs, err := db.ListSyncLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, "AppSync", logs[0].From)
	assert.Equal(t, "chain override", logs[0].Reason)
	assert.Equal(t, 2, logs[0].Updated)
	assert.Equal(t, "LedgerSync", logs[1].From)
	assert.Equal(t, "chain override", logs[1].Reason)
	assert.Equal(t, 1, logs[1].Added)
	assert.Equal(t, 2, logs[1].Updated)
	assert.Zero(t, logs[1].Deleted)
}

func TestInboundAppendsExtendingBlock(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := bus.New()
	m := status.NewMachine(b)
	events, unsub := b.Subscribe("chain.", 4)
	defer unsub()

	in := NewInbound(db, nil, NewIngester(db, b, identity, nil), m, b, NewReconciler(db, nil), zaptest.NewLogger(t))
	genesis := trust.BuildBlock(trust.Ledger{}, "", 0)
	require.NoError(t, in.HandleEnvelope(ctx, &transport.Envelope{Kind: transport.KindBlock, SenderID: "222222", Block: &genesis}))

	tip, err := db.TipBlock(ctx)
	require.NoError(t, err)
	require.NotNil(t, tip)
	assert.Equal(t, genesis.Hash, tip.Hash)
	assert.Equal(t, status.OK, m.Current())

	evt := <-events
	assert.Equal(t, bus.KindChainAppended, evt.Kind)

	// Replaying the tip is a silent no-op.
	require.NoError(t, in.HandleEnvelope(ctx, &transport.Envelope{Kind: transport.KindBlock, Block: &genesis}))
	logs, _ := db.ListSyncLogs(ctx, 0)
	require.Len(t, logs, 1)
	assert.Equal(t, "LedgerSync", logs[0].From)
	assert.Equal(t, "222222", logs[0].Peer)
}

func TestInboundChainMismatch(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := bus.New()
	m := status.NewMachine(b)
	require.NoError(t, m.Transition(status.OK))

	in := NewInbound(db, nil, NewIngester(db, b, identity, nil), m, b, NewReconciler(db, nil), zaptest.NewLogger(t))
	orphan := trust.BuildBlock(trust.Ledger{}, "unknown-parent", 3)
	err := in.HandleEnvelope(ctx, &transport.Envelope{Kind: transport.KindBlock, SenderID: "222222", Block: &orphan})
	assert.True(t, errors.Is(err, errors.ErrChainMismatch))
	assert.Equal(t, status.Idle, m.Current())

	blocks, _ := db.Blocks(ctx)
	assert.Empty(t, blocks)
	logs, err := db.ListSyncLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "chain mismatch", logs[0].Reason)
}

func TestInboundLoopIngestsMessages(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := bus.New()
	sub := make(chanSubscriber, 1)

	in := NewInbound(db, sub, NewIngester(db, b, identity, nil), status.NewMachine(b), b, NewReconciler(db, nil), zaptest.NewLogger(t))
	in.Start(ctx)
	defer in.Stop()

	sub <- &transport.Envelope{Kind: transport.KindMessage, SenderID: identity.PeerID, Message: &store.Message{
		ID: "m9", SenderID: identity.PeerID, ReceiverID: identity.DeviceID, ShortName: "call mom", Status: status.NotDelivered,
	}}

	require.Eventually(t, func() bool {
		m, err := db.GetMessage(ctx, "m9")
		return err == nil && m != nil && m.Status == status.Delivered
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAppSyncFailureKeepsJournalClean(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := bus.New()
	redeliver := &countingRedeliverer{}
	relay := &fakeRelay{syncErr: errors.New("connection refused")}

	app := NewAppSync(db, relay, redeliver, NewIngester(db, b, identity, nil), b, identity, time.Minute, NewReconciler(db, nil), zaptest.NewLogger(t))
	res := app.SyncWithPeer(ctx, false, "regular")
	assert.False(t, res.Success)
	assert.Equal(t, 1, redeliver.calls)

	logs, _ := db.ListSyncLogs(ctx, 0)
	assert.Empty(t, logs)
}

func TestAppSyncForceRewritesEqualStatus(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := bus.New()
	seed(t, db, "m1", status.Delivered)
	relay := &fakeRelay{updates: []store.StatusEntry{{ID: "m1", Status: status.Delivered}}}

	app := NewAppSync(db, relay, nil, NewIngester(db, b, identity, nil), b, identity, time.Minute, NewReconciler(db, nil), zaptest.NewLogger(t))

	res := app.SyncWithPeer(ctx, false, "regular")
	require.True(t, res.Success)
	assert.Empty(t, res.Updated)

	logs, err := db.ListSyncLogs(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, logs, "a pass that changes nothing is not journaled")

	res = app.ForceSync(ctx, "manual")
	require.True(t, res.Success)
	assert.Equal(t, []string{"m1"}, res.Updated)

	logs, err = db.ListSyncLogs(ctx, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, "manual", logs[0].Reason)
	assert.Equal(t, 1, logs[0].Updated)
	assert.Equal(t, identity.PeerID, logs[0].Peer)
}

func TestFetchMissingSkipsUnknownAndLocal(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	b := bus.New()
	seed(t, db, "m1", status.Delivered)
	relay := &fakeRelay{messages: map[string]*store.Message{
		"m2": {ID: "m2", SenderID: identity.PeerID, ReceiverID: identity.DeviceID, ShortName: "walk", Status: status.Played},
	}}

	app := NewAppSync(db, relay, nil, NewIngester(db, b, identity, nil), b, identity, time.Minute, nil, zaptest.NewLogger(t))
	n := app.FetchMissing(ctx, []string{"m1", "m2", "gone"})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"m2", "gone"}, relay.fetched)

	m, _ := db.GetMessage(ctx, "m2")
	require.NotNil(t, m)
	assert.Equal(t, status.Played, m.Status)
}

func TestReconcilerCheckpoints(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	rec := NewReconciler(db, nil)

	at, err := rec.Get(ctx, CheckpointAppSync)
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	before := time.Now().Add(-time.Second)
	rec.Mark(ctx, CheckpointAppSync)
	at, err = rec.Get(ctx, CheckpointAppSync)
	require.NoError(t, err)
	assert.True(t, at.After(before))

	var nilRec *Reconciler
	nilRec.Mark(ctx, CheckpointAppSync)
}
