package gateway

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/auction"
	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/ledger"
	"github.com/mcdev12/landauction/go/internal/models"
	"github.com/mcdev12/landauction/go/internal/presence"
)

const testToken = "secret"

type fixture struct {
	engine   *auction.Engine
	presence *presence.Registry
	clock    *clockwork.FakeClock
	teams    []models.Team
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	data, err := ledger.SeedDataset(ledger.SeedConfig{
		Teams:     3,
		Plots:     4,
		Budget:    decimal.NewFromInt(1000000),
		BasePrice: decimal.NewFromInt(100),
	})
	if err != nil {
		t.Fatalf("SeedDataset() error = %v", err)
	}
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	engine, err := auction.NewEngine(ledger.NewMemoryStoreFrom(data), events.Discard{}, auction.WithClock(clock))
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(engine.Close)
	return &fixture{
		engine:   engine,
		presence: presence.NewRegistry(presence.DefaultConfig(), presence.WithClock(clock)),
		clock:    clock,
		teams:    data.Teams,
	}
}

// fakeClient records replies in place of a websocket connection.
type fakeClient struct {
	id string

	mu     sync.Mutex
	team   uuid.UUID
	role   string
	sent   []events.Event
	closed bool
}

func newClient() *fakeClient { return &fakeClient{id: uuid.NewString()} }

func (c *fakeClient) ID() string { return c.id }

func (c *fakeClient) Send(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
}

func (c *fakeClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeClient) Team() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.team
}

func (c *fakeClient) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *fakeClient) setIdentity(teamID uuid.UUID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.team, c.role = teamID, role
}

// drain returns and clears everything sent so far.
func (c *fakeClient) drain() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.sent
	c.sent = nil
	return out
}

func decodeData[T any](t *testing.T, ev events.Event) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(ev.Data, &v); err != nil {
		t.Fatalf("failed to decode %s payload: %v", ev.Type, err)
	}
	return v
}

func frame(t *testing.T, typ, ref string, data any) []byte {
	t.Helper()
	msg := map[string]any{"type": typ, "ref": ref}
	if data != nil {
		msg["data"] = data
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return raw
}
