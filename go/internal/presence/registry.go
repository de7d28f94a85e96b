// Package presence tracks which team is connected on which transport and
// how lively each connection is. It never touches the ledger.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/landauction/go/internal/events"
)

// ErrBanned is returned when a banned team tries to join.
var ErrBanned = errors.New("team is banned")

// Status of a team's presence.
type Status string

const (
	StatusActive       Status = "active"
	StatusIdle         Status = "idle"
	StatusReconnecting Status = "reconnecting"
)

// Conn is the registry's view of a live transport connection.
type Conn interface {
	ID() string
	// Send delivers an event to this connection only. It must not block.
	Send(event events.Event)
	Close()
}

// Config holds the liveness timings.
type Config struct {
	HeartbeatTimeout time.Duration `yaml:"heartbeat_timeout"`
	GracePeriod      time.Duration `yaml:"grace_period"`
	SweepInterval    time.Duration `yaml:"sweep_interval"`
}

// DefaultConfig returns the timings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		HeartbeatTimeout: 20 * time.Second,
		GracePeriod:      30 * time.Second,
		SweepInterval:    10 * time.Second,
	}
}

type session struct {
	teamID        uuid.UUID
	teamName      string
	conn          Conn // nil while reconnecting
	visible       bool
	status        Status
	connectedAt   time.Time
	lastHeartbeat time.Time
	disconnected  *time.Time
}

// Registry holds one presence entry per team plus the spectator set.
type Registry struct {
	mu         sync.Mutex
	clock      clockwork.Clock
	cfg        Config
	teams      map[uuid.UUID]*session
	spectators map[string]Conn
	banned     map[uuid.UUID]bool
	seq        uint64 // bumped for every roster handed to onChange

	notifyMu  sync.Mutex
	delivered uint64
	onChange  func(events.RosterPayload)
}

// rosterSnapshot is a roster together with the order it was taken in.
type rosterSnapshot struct {
	seq    uint64
	roster *events.RosterPayload
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock replaces the wall clock.
func WithClock(c clockwork.Clock) Option {
	return func(r *Registry) { r.clock = c }
}

// OnChange registers fn to receive the roster after every change. fn is
// called without the registry lock held, one call at a time, and never with
// a roster older than one it has already seen.
func OnChange(fn func(events.RosterPayload)) Option {
	return func(r *Registry) { r.onChange = fn }
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg Config, opts ...Option) *Registry {
	r := &Registry{
		clock:      clockwork.NewRealClock(),
		cfg:        cfg,
		teams:      make(map[uuid.UUID]*session),
		spectators: make(map[string]Conn),
		banned:     make(map[uuid.UUID]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// JoinTeam records conn as the team's live connection. A different connection
// already on record is told it was taken over and closed. If conn was
// signed in as another team or as a spectator, that earlier entry is dropped.
func (r *Registry) JoinTeam(teamID uuid.UUID, teamName string, conn Conn) error {
	now := r.clock.Now()

	r.mu.Lock()
	if r.banned[teamID] {
		r.mu.Unlock()
		return ErrBanned
	}
	r.releaseConnLocked(conn.ID(), teamID)
	var replaced Conn
	s, ok := r.teams[teamID]
	if ok && s.conn != nil && s.conn.ID() != conn.ID() {
		replaced = s.conn
	}
	if !ok {
		s = &session{teamID: teamID, connectedAt: now}
		r.teams[teamID] = s
	}
	s.teamName = teamName
	s.conn = conn
	s.visible = true
	s.status = StatusActive
	s.lastHeartbeat = now
	s.disconnected = nil
	roster := r.snapshotLocked()
	r.mu.Unlock()

	if replaced != nil {
		notify(replaced, events.EventTypeTakeover, events.TakeoverPayload{
			Message: "this team signed in from another connection",
		}, now)
		replaced.Close()
		log.Info().
			Str("team", teamName).
			Str("old_connection_id", replaced.ID()).
			Str("connection_id", conn.ID()).
			Msg("team connection taken over")
	}
	r.changed(roster)
	return nil
}

// JoinSpectator records a read-only connection. A team session held by the
// same connection is dropped.
func (r *Registry) JoinSpectator(conn Conn) {
	r.mu.Lock()
	r.releaseConnLocked(conn.ID(), uuid.Nil)
	r.spectators[conn.ID()] = conn
	roster := r.snapshotLocked()
	r.mu.Unlock()
	r.changed(roster)
}

// Disconnect handles a closed transport. Only the connection on record for a
// team counts; a close from a replaced connection is ignored. It reports
// whether anything changed.
func (r *Registry) Disconnect(conn Conn) bool {
	now := r.clock.Now()
	id := conn.ID()

	r.mu.Lock()
	if _, ok := r.spectators[id]; ok {
		delete(r.spectators, id)
		roster := r.snapshotLocked()
		r.mu.Unlock()
		r.changed(roster)
		return true
	}
	s := r.sessionForConnLocked(id)
	if s == nil {
		r.mu.Unlock()
		log.Debug().Str("connection_id", id).Msg("ignoring close of a replaced connection")
		return false
	}
	s.conn = nil
	s.status = StatusReconnecting
	s.disconnected = &now
	roster := r.snapshotLocked()
	r.mu.Unlock()

	r.changed(roster)
	return true
}

// Logout removes the team immediately if connID is its live connection.
func (r *Registry) Logout(teamID uuid.UUID, connID string) bool {
	r.mu.Lock()
	s, ok := r.teams[teamID]
	if !ok || s.conn == nil || s.conn.ID() != connID {
		r.mu.Unlock()
		return false
	}
	delete(r.teams, teamID)
	roster := r.snapshotLocked()
	r.mu.Unlock()

	r.changed(roster)
	return true
}

// Heartbeat refreshes the team's liveness.
func (r *Registry) Heartbeat(teamID uuid.UUID, connID string) bool {
	now := r.clock.Now()
	r.mu.Lock()
	s, ok := r.teams[teamID]
	if !ok || s.conn == nil || s.conn.ID() != connID {
		r.mu.Unlock()
		return false
	}
	s.lastHeartbeat = now
	prev := s.status
	s.status = statusFor(s.visible)
	var roster *rosterSnapshot
	if prev != s.status {
		roster = r.snapshotLocked()
	}
	r.mu.Unlock()

	if roster != nil {
		r.changed(roster)
	}
	return true
}

// SetVisibility marks the team active when its page is visible, idle otherwise.
func (r *Registry) SetVisibility(teamID uuid.UUID, connID string, visible bool) bool {
	now := r.clock.Now()
	r.mu.Lock()
	s, ok := r.teams[teamID]
	if !ok || s.conn == nil || s.conn.ID() != connID {
		r.mu.Unlock()
		return false
	}
	s.visible = visible
	s.lastHeartbeat = now
	s.status = statusFor(visible)
	roster := r.snapshotLocked()
	r.mu.Unlock()

	r.changed(roster)
	return true
}

func statusFor(visible bool) Status {
	if visible {
		return StatusActive
	}
	return StatusIdle
}

// Ban refuses future joins by the team and drops its current connection.
func (r *Registry) Ban(teamID uuid.UUID) {
	now := r.clock.Now()
	r.mu.Lock()
	r.banned[teamID] = true
	var conn Conn
	if s, ok := r.teams[teamID]; ok {
		conn = s.conn
		delete(r.teams, teamID)
	}
	roster := r.snapshotLocked()
	r.mu.Unlock()

	if conn != nil {
		notify(conn, events.EventTypeBanned, events.BannedPayload{
			TeamID:  teamID.String(),
			Message: "team has been banned by the administrator",
		}, now)
		conn.Close()
	}
	r.changed(roster)
}

// Unban lets the team join again.
func (r *Registry) Unban(teamID uuid.UUID) {
	r.mu.Lock()
	delete(r.banned, teamID)
	r.mu.Unlock()
}

// Banned reports whether the team is refused.
func (r *Registry) Banned(teamID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.banned[teamID]
}

// Connected reports whether conn is the team's live connection.
func (r *Registry) Connected(teamID uuid.UUID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.teams[teamID]
	return ok && s.conn != nil && s.conn.ID() == connID
}

// Roster returns the current presence list.
func (r *Registry) Roster() events.RosterPayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rosterLocked()
}

// Sweep demotes silent teams and drops those past the grace period. Silent
// connections that are still open get closed.
func (r *Registry) Sweep() {
	now := r.clock.Now()
	var toClose []Conn

	r.mu.Lock()
	changed := false
	for id, s := range r.teams {
		silence := now.Sub(s.lastHeartbeat)
		if s.conn == nil {
			if s.disconnected != nil && now.Sub(*s.disconnected) >= r.cfg.GracePeriod {
				delete(r.teams, id)
				changed = true
				log.Info().Str("team", s.teamName).Msg("presence expired after disconnect")
			}
			continue
		}
		if silence < r.cfg.HeartbeatTimeout {
			continue
		}
		if silence >= r.cfg.HeartbeatTimeout+r.cfg.GracePeriod {
			toClose = append(toClose, s.conn)
			delete(r.teams, id)
			changed = true
			log.Info().Str("team", s.teamName).Dur("silence", silence).Msg("closing silent connection")
			continue
		}
		if s.status != StatusIdle {
			s.status = StatusIdle
			changed = true
		}
	}
	var roster *rosterSnapshot
	if changed {
		roster = r.snapshotLocked()
	}
	r.mu.Unlock()

	for _, c := range toClose {
		c.Close()
	}
	if roster != nil {
		r.changed(roster)
	}
}

// Run sweeps every SweepInterval until ctx is done.
func (r *Registry) Run(ctx context.Context) error {
	ticker := r.clock.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.cfg.SweepInterval).Msg("presence sweeper started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("presence sweeper stopped")
			return nil
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

func (r *Registry) sessionForConnLocked(connID string) *session {
	for _, s := range r.teams {
		if s.conn != nil && s.conn.ID() == connID {
			return s
		}
	}
	return nil
}

// releaseConnLocked forgets connID everywhere except under keep.
func (r *Registry) releaseConnLocked(connID string, keep uuid.UUID) {
	delete(r.spectators, connID)
	for id, s := range r.teams {
		if id != keep && s.conn != nil && s.conn.ID() == connID {
			delete(r.teams, id)
			log.Info().Str("team", s.teamName).Str("connection_id", connID).Msg("connection switched identity")
		}
	}
}

func (r *Registry) snapshotLocked() *rosterSnapshot {
	r.seq++
	return &rosterSnapshot{seq: r.seq, roster: r.rosterLocked()}
}

func (r *Registry) rosterLocked() *events.RosterPayload {
	out := &events.RosterPayload{
		Teams:      make([]events.RosterEntry, 0, len(r.teams)),
		Spectators: len(r.spectators),
	}
	for _, s := range r.teams {
		out.Teams = append(out.Teams, events.RosterEntry{
			TeamID:        s.teamID.String(),
			TeamName:      s.teamName,
			Status:        string(s.status),
			ConnectedAt:   s.connectedAt,
			LastHeartbeat: s.lastHeartbeat,
			Disconnected:  s.disconnected,
		})
	}
	sort.Slice(out.Teams, func(i, j int) bool { return out.Teams[i].TeamName < out.Teams[j].TeamName })
	return out
}

// changed delivers snap unless a newer roster already went out.
func (r *Registry) changed(snap *rosterSnapshot) {
	if r.onChange == nil {
		return
	}
	r.notifyMu.Lock()
	defer r.notifyMu.Unlock()
	if snap.seq <= r.delivered {
		return
	}
	r.delivered = snap.seq
	r.onChange(*snap.roster)
}

func notify(conn Conn, t events.EventType, payload any, now time.Time) {
	ev, err := events.New(t, payload, now)
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build notice")
		return
	}
	conn.Send(ev)
}
