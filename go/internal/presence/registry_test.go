package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/landauction/go/internal/events"
)

type fakeConn struct {
	id string

	mu     sync.Mutex
	sent   []events.Event
	closed bool
}

func newConn() *fakeConn { return &fakeConn{id: uuid.NewString()} }

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) Send(ev events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeConn) state() ([]events.EventType, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var types []events.EventType
	for _, ev := range c.sent {
		types = append(types, ev.Type)
	}
	return types, c.closed
}

func newTestRegistry() (*Registry, *clockwork.FakeClock, *[]events.RosterPayload) {
	clock := clockwork.NewFakeClock()
	var (
		mu      sync.Mutex
		rosters []events.RosterPayload
	)
	r := NewRegistry(DefaultConfig(), WithClock(clock), OnChange(func(p events.RosterPayload) {
		mu.Lock()
		defer mu.Unlock()
		rosters = append(rosters, p)
	}))
	return r, clock, &rosters
}

func statusOf(r *Registry, teamID uuid.UUID) (Status, bool) {
	for _, e := range r.Roster().Teams {
		if e.TeamID == teamID.String() {
			return Status(e.Status), true
		}
	}
	return "", false
}

func TestJoinTakesOverOldConnection(t *testing.T) {
	r, _, rosters := newTestRegistry()
	team := uuid.New()
	first, second := newConn(), newConn()

	if err := r.JoinTeam(team, "Team A", first); err != nil {
		t.Fatalf("JoinTeam() error = %v", err)
	}
	if err := r.JoinTeam(team, "Team A", second); err != nil {
		t.Fatalf("JoinTeam() error = %v", err)
	}

	sent, closed := first.state()
	if !closed || len(sent) != 1 || sent[0] != events.EventTypeTakeover {
		t.Fatalf("old connection sent=%v closed=%v, want takeover and close", sent, closed)
	}
	if _, closed := second.state(); closed {
		t.Fatal("new connection was closed")
	}
	if !r.Connected(team, second.ID()) || r.Connected(team, first.ID()) {
		t.Fatal("registry does not point at the new connection")
	}
	if got := len(r.Roster().Teams); got != 1 {
		t.Fatalf("roster has %d teams, want 1", got)
	}
	if len(*rosters) != 2 {
		t.Fatalf("roster changes = %d, want 2", len(*rosters))
	}

	// Rejoining on the same connection is not a takeover.
	if err := r.JoinTeam(team, "Team A", second); err != nil {
		t.Fatal(err)
	}
	if sent, closed := second.state(); closed || len(sent) != 0 {
		t.Fatalf("same-connection rejoin sent=%v closed=%v", sent, closed)
	}
}

func TestStaleCloseIsIgnored(t *testing.T) {
	r, _, _ := newTestRegistry()
	team := uuid.New()
	first, second := newConn(), newConn()
	_ = r.JoinTeam(team, "Team A", first)
	_ = r.JoinTeam(team, "Team A", second)

	if r.Disconnect(first) {
		t.Fatal("close of the replaced connection changed presence")
	}
	if st, ok := statusOf(r, team); !ok || st != StatusActive {
		t.Fatalf("status = %s, %v, want active", st, ok)
	}

	if !r.Disconnect(second) {
		t.Fatal("close of the live connection was ignored")
	}
	if st, _ := statusOf(r, team); st != StatusReconnecting {
		t.Fatalf("status = %s, want reconnecting", st)
	}
}

func TestSweep(t *testing.T) {
	r, clock, _ := newTestRegistry()
	cfg := DefaultConfig()
	silent, gone, lively := uuid.New(), uuid.New(), uuid.New()
	silentConn, goneConn, livelyConn := newConn(), newConn(), newConn()
	_ = r.JoinTeam(silent, "Silent", silentConn)
	_ = r.JoinTeam(gone, "Gone", goneConn)
	_ = r.JoinTeam(lively, "Lively", livelyConn)
	r.Disconnect(goneConn)

	clock.Advance(cfg.HeartbeatTimeout)
	r.Heartbeat(lively, livelyConn.ID())
	r.Sweep()
	if st, _ := statusOf(r, silent); st != StatusIdle {
		t.Fatalf("silent team status = %s, want idle", st)
	}
	if st, _ := statusOf(r, gone); st != StatusReconnecting {
		t.Fatalf("disconnected team status = %s, want reconnecting within grace", st)
	}

	clock.Advance(cfg.GracePeriod)
	r.Heartbeat(lively, livelyConn.ID())
	r.Sweep()
	if _, ok := statusOf(r, gone); ok {
		t.Fatal("disconnected team kept past the grace period")
	}
	if _, ok := statusOf(r, silent); ok {
		t.Fatal("silent team kept past timeout plus grace")
	}
	if _, closed := silentConn.state(); !closed {
		t.Fatal("silent connection was not closed")
	}
	if st, _ := statusOf(r, lively); st != StatusActive {
		t.Fatalf("lively team status = %s, want active", st)
	}
}

func TestHeartbeatRevivesIdle(t *testing.T) {
	r, clock, _ := newTestRegistry()
	team, conn := uuid.New(), newConn()
	_ = r.JoinTeam(team, "Team A", conn)

	clock.Advance(DefaultConfig().HeartbeatTimeout)
	r.Sweep()
	if st, _ := statusOf(r, team); st != StatusIdle {
		t.Fatalf("status = %s, want idle", st)
	}
	if !r.Heartbeat(team, conn.ID()) {
		t.Fatal("Heartbeat() rejected the live connection")
	}
	if st, _ := statusOf(r, team); st != StatusActive {
		t.Fatalf("status = %s, want active", st)
	}
	if r.Heartbeat(team, "other") {
		t.Fatal("Heartbeat() accepted a foreign connection")
	}

	r.SetVisibility(team, conn.ID(), false)
	r.Heartbeat(team, conn.ID())
	if st, _ := statusOf(r, team); st != StatusIdle {
		t.Fatalf("hidden page status = %s, want idle", st)
	}
}

func TestBan(t *testing.T) {
	r, _, _ := newTestRegistry()
	team, conn := uuid.New(), newConn()
	_ = r.JoinTeam(team, "Team A", conn)

	r.Ban(team)
	sent, closed := conn.state()
	if !closed || len(sent) != 1 || sent[0] != events.EventTypeBanned {
		t.Fatalf("banned connection sent=%v closed=%v", sent, closed)
	}
	if _, ok := statusOf(r, team); ok {
		t.Fatal("banned team still in roster")
	}
	if err := r.JoinTeam(team, "Team A", newConn()); !errors.Is(err, ErrBanned) {
		t.Fatalf("JoinTeam() after ban error = %v, want ErrBanned", err)
	}

	r.Unban(team)
	if r.Banned(team) {
		t.Fatal("team still banned")
	}
	if err := r.JoinTeam(team, "Team A", newConn()); err != nil {
		t.Fatalf("JoinTeam() after unban error = %v", err)
	}
}

func TestSpectatorsAndLogout(t *testing.T) {
	r, _, _ := newTestRegistry()
	viewer := newConn()
	r.JoinSpectator(viewer)
	if got := r.Roster().Spectators; got != 1 {
		t.Fatalf("spectators = %d, want 1", got)
	}
	r.Disconnect(viewer)
	if got := r.Roster().Spectators; got != 0 {
		t.Fatalf("spectators = %d, want 0", got)
	}

	team, conn := uuid.New(), newConn()
	_ = r.JoinTeam(team, "Team A", conn)
	if r.Logout(team, "someone-else") {
		t.Fatal("Logout() accepted a foreign connection")
	}
	if !r.Logout(team, conn.ID()) {
		t.Fatal("Logout() rejected the live connection")
	}
	if _, ok := statusOf(r, team); ok {
		t.Fatal("team still present after logout")
	}
}

func TestRunSweepsOnTicker(t *testing.T) {
	r, clock, _ := newTestRegistry()
	team, conn := uuid.New(), newConn()
	_ = r.JoinTeam(team, "Team A", conn)
	r.Disconnect(conn)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	blockCtx, cancelBlock := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancelBlock()
	if err := clock.BlockUntilContext(blockCtx, 1); err != nil {
		t.Fatalf("sweeper never started: %v", err)
	}
	cfg := DefaultConfig()
	for elapsed := time.Duration(0); elapsed <= cfg.GracePeriod; elapsed += cfg.SweepInterval {
		clock.Advance(cfg.SweepInterval)
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := statusOf(r, team); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("sweeper never expired the disconnected team")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestJoinAsAnotherTeamDropsEarlierSession(t *testing.T) {
	r, _, _ := newTestRegistry()
	teamA, teamB := uuid.New(), uuid.New()
	conn := newConn()

	_ = r.JoinTeam(teamA, "Team A", conn)
	if err := r.JoinTeam(teamB, "Team B", conn); err != nil {
		t.Fatalf("JoinTeam() error = %v", err)
	}
	if r.Connected(teamA, conn.ID()) {
		t.Fatal("team A still bound to the connection that joined as team B")
	}
	if !r.Connected(teamB, conn.ID()) {
		t.Fatal("team B not bound to the connection")
	}
	if _, ok := statusOf(r, teamA); ok {
		t.Fatal("team A still on the roster")
	}
	if sent, closed := conn.state(); closed || len(sent) != 0 {
		t.Fatalf("switching teams sent=%v closed=%v, want nothing", sent, closed)
	}

	// The close belongs to team B alone.
	if !r.Disconnect(conn) {
		t.Fatal("Disconnect() ignored the live connection")
	}
	if st, _ := statusOf(r, teamB); st != StatusReconnecting {
		t.Fatalf("team B status = %s, want reconnecting", st)
	}

	viewer := newConn()
	_ = r.JoinTeam(teamA, "Team A", viewer)
	r.JoinSpectator(viewer)
	if _, ok := statusOf(r, teamA); ok {
		t.Fatal("team A kept after its connection became a spectator")
	}
	if got := r.Roster().Spectators; got != 1 {
		t.Fatalf("spectators = %d, want 1", got)
	}
}

func TestStaleRosterIsNotDelivered(t *testing.T) {
	r, _, rosters := newTestRegistry()

	r.mu.Lock()
	r.spectators["a"] = newConn()
	older := r.snapshotLocked()
	r.spectators["b"] = newConn()
	newer := r.snapshotLocked()
	r.mu.Unlock()

	r.changed(newer)
	r.changed(older)
	if len(*rosters) != 1 || (*rosters)[0].Spectators != 2 {
		t.Fatalf("delivered rosters = %+v, want only the newer one", *rosters)
	}
}

func TestConcurrentRosterChangesArriveInOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		counts []int
	)
	r := NewRegistry(DefaultConfig(), OnChange(func(p events.RosterPayload) {
		mu.Lock()
		defer mu.Unlock()
		counts = append(counts, p.Spectators)
	}))

	const joins = 50
	var wg sync.WaitGroup
	for i := 0; i < joins; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.JoinSpectator(newConn())
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(counts); i++ {
		if counts[i] <= counts[i-1] {
			t.Fatalf("roster went from %d to %d spectators", counts[i-1], counts[i])
		}
	}
	if len(counts) == 0 || counts[len(counts)-1] != joins {
		t.Fatalf("last roster = %v, want %d spectators", counts, joins)
	}
}
