package relay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matheus3301/remotememo/internal/store"
	"github.com/matheus3301/remotememo/internal/transport"
	"github.com/matheus3301/remotememo/internal/trust"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestRegistryNoCounterpart(t *testing.T) {
	r := NewRegistry(16, time.Minute)

	updates, found := r.ReportStatuses("A", []store.StatusEntry{{ID: "m1", Status: "unread"}})
	assert.False(t, found)
	assert.Empty(t, updates)
}

func TestRegistryStatusConvergence(t *testing.T) {
	r := NewRegistry(16, time.Minute)

	_, found := r.ReportStatuses("B", []store.StatusEntry{{ID: "m1", Status: "delivered"}})
	assert.False(t, found)

	updates, found := r.ReportStatuses("A", []store.StatusEntry{{ID: "m1", Status: "unread"}, {ID: "m2", Status: "read"}})
	require.True(t, found)
	assert.Equal(t, []store.StatusEntry{{ID: "m1", Status: "delivered"}}, updates)

	// A applied the update and reports it; B's next round sees agreement.
	updates, found = r.ReportStatuses("A", []store.StatusEntry{{ID: "m1", Status: "delivered"}, {ID: "m2", Status: "read"}})
	require.True(t, found)
	assert.Empty(t, updates)
	updates, found = r.ReportStatuses("B", []store.StatusEntry{{ID: "m1", Status: "delivered"}})
	require.True(t, found)
	assert.Empty(t, updates)
}

func TestRegistryReturnsCounterpartStatusVerbatim(t *testing.T) {
	r := NewRegistry(16, time.Minute)

	r.ReportStatuses("A", []store.StatusEntry{{ID: "m1", Status: "pending"}})
	updates, found := r.ReportStatuses("B", []store.StatusEntry{{ID: "m1", Status: "delivered"}})
	require.True(t, found)
	assert.Equal(t, []store.StatusEntry{{ID: "m1", Status: "pending"}}, updates)

	// The map holds what B reported, not what B was told.
	updates, _ = r.ReportStatuses("A", []store.StatusEntry{{ID: "m1", Status: "pending"}})
	assert.Equal(t, []store.StatusEntry{{ID: "m1", Status: "delivered"}}, updates)
}

func TestRegistryCounterpartIsMostRecent(t *testing.T) {
	r := NewRegistry(16, time.Minute)
	r.Touch("A")
	r.Touch("B")
	r.Touch("C")

	id, ok := r.Counterpart("A")
	require.True(t, ok)
	assert.Equal(t, "C", id)

	r.Touch("B")
	id, _ = r.Counterpart("A")
	assert.Equal(t, "B", id)
	assert.Equal(t, []string{"B", "C"}, r.Others("A"))
}

func TestRegistryCapacityEvictsLeastRecent(t *testing.T) {
	r := NewRegistry(2, time.Minute)
	var evicted []string
	r.OnEvict(func(id string) { evicted = append(evicted, id) })

	r.Touch("A")
	r.Touch("B")
	r.Touch("C")

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"A"}, evicted)
}

func TestRegistryTTL(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	r := NewRegistry(16, time.Minute)
	r.now = clock.now

	r.Touch("A")
	clock.advance(30 * time.Second)
	r.Touch("B")

	_, ok := r.Counterpart("B")
	assert.True(t, ok)

	clock.advance(45 * time.Second)
	_, ok = r.Counterpart("B")
	assert.False(t, ok, "A went quiet for longer than the TTL")
	assert.Equal(t, 1, r.Len())
}

func TestRegistryExchangeBlock(t *testing.T) {
	r := NewRegistry(16, time.Minute)
	a := trust.NextBlock(trust.Ledger{}, nil)
	b := trust.NextBlock(trust.Ledger{{ID: "m", Status: "read", Hash: "h"}}, nil)

	assert.Nil(t, r.ExchangeBlock("A", &a))

	got := r.ExchangeBlock("B", &b)
	require.NotNil(t, got)
	assert.Equal(t, a.Hash, got.Hash)

	got = r.ExchangeBlock("A", nil)
	require.NotNil(t, got)
	assert.Equal(t, b.Hash, got.Hash)
}

func TestMailboxOverflowDropsOldest(t *testing.T) {
	m := NewMailboxes(2, 4)
	for _, id := range []string{"1", "2", "3"} {
		m.Push("B", transport.Envelope{Kind: transport.KindMessage, Message: &store.Message{ID: id}})
	}
	assert.Equal(t, int64(1), m.Dropped())
	assert.Equal(t, 2, m.Len("B"))

	env := m.Pop(context.Background(), "B")
	require.NotNil(t, env)
	assert.Equal(t, "2", env.Message.ID)
}

func TestMailboxPopWaitsForPush(t *testing.T) {
	m := NewMailboxes(8, 4)
	done := make(chan *transport.Envelope, 1)
	go func() { done <- m.Pop(context.Background(), "B") }()

	time.Sleep(20 * time.Millisecond)
	m.Push("B", transport.Envelope{Kind: transport.KindBlock, Block: &trust.Block{Hash: "x"}})

	select {
	case env := <-done:
		require.NotNil(t, env)
		assert.Equal(t, "x", env.Block.Hash)
	case <-time.After(2 * time.Second):
		t.Fatal("Pop did not wake up")
	}
}

func TestMailboxPopTimeout(t *testing.T) {
	m := NewMailboxes(8, 4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Nil(t, m.Pop(ctx, "B"))
}

func TestMessageCache(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewMessageCache(2, time.Hour)
	c.now = clock.now

	c.Put(store.Message{ID: "1"})
	c.Put(store.Message{ID: "2"})
	c.Put(store.Message{ID: "3"})

	_, ok := c.Get("1")
	assert.False(t, ok, "capacity should evict the oldest")
	_, ok = c.Get("3")
	assert.True(t, ok)

	clock.advance(2 * time.Hour)
	_, ok = c.Get("3")
	assert.False(t, ok, "expired entries are not served")
}
