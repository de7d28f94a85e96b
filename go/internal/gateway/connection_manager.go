package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/landauction/go/internal/events"
)

// ConnectionManager manages the WebSocket connections of the auction room
type ConnectionManager struct {
	connections map[string]*Connection
	mu          sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig

	broadcastCh chan BroadcastMessage
	running     atomic.Bool
}

// MessageHandler receives what clients send
type MessageHandler interface {
	HandleMessage(ctx context.Context, c *Connection, message []byte)
	HandleClose(c *Connection)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	id      string
	Conn    *websocket.Conn
	send    chan []byte
	manager *ConnectionManager
	handler MessageHandler
	limiter *rate.Limiter

	mu     sync.Mutex
	teamID uuid.UUID // uuid.Nil until the connection joins as a team
	role   string
	closed bool

	ConnectedAt time.Time
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBuffer      int
	// MessageRate and MessageBurst bound inbound messages per connection
	MessageRate  rate.Limit
	MessageBurst int
	CheckOrigin  func(r *http.Request) bool
}

// BroadcastMessage is an event for the whole room or, with ConnID set, one connection
type BroadcastMessage struct {
	Event  events.Event
	ConnID string
	// Close closes ConnID after everything queued ahead of it
	Close bool
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBuffer:      256,
		MessageRate:     20,
		MessageBurst:    40,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		connections: make(map[string]*Connection),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000),
	}
}

// Start processes broadcast messages until ctx is done
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	cm.running.Store(true)
	defer cm.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and starts its
// pumps. Inbound messages go to handler
func (cm *ConnectionManager) UpgradeConnection(ctx context.Context, w http.ResponseWriter, r *http.Request, handler MessageHandler) (*Connection, error) {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		id:          uuid.NewString(),
		Conn:        conn,
		send:        make(chan []byte, cm.config.SendBuffer),
		manager:     cm,
		handler:     handler,
		limiter:     rate.NewLimiter(cm.config.MessageRate, cm.config.MessageBurst),
		ConnectedAt: time.Now(),
	}
	cm.registerConnection(connection)

	go connection.writePump()
	go connection.readPump(ctx)

	log.Info().
		Str("connection_id", connection.id).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket connection established")
	return connection, nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.connections[conn.id] = conn

	log.Debug().
		Str("connection_id", conn.id).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, ok := cm.connections[conn.id]; !ok {
		return
	}
	delete(cm.connections, conn.id)
	log.Info().Str("connection_id", conn.id).Msg("connection unregistered")
}

// Publish implements events.Publisher by queueing the event for every connection
func (cm *ConnectionManager) Publish(event events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event}:
	default:
		log.Warn().Str("event_type", string(event.Type)).Msg("broadcast channel full, dropping message")
	}
}

// SendTo queues an event for a single connection
func (cm *ConnectionManager) SendTo(connID string, event events.Event) {
	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event, ConnID: connID}:
	default:
		log.Warn().
			Str("connection_id", connID).
			Str("event_type", string(event.Type)).
			Msg("broadcast channel full, dropping direct message")
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	var targets []*Connection
	if message.ConnID != "" {
		if c, ok := cm.connections[message.ConnID]; ok {
			targets = append(targets, c)
		}
	} else if !message.Close {
		targets = make([]*Connection, 0, len(cm.connections))
		for _, c := range cm.connections {
			targets = append(targets, c)
		}
	}
	cm.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	if message.Close {
		targets[0].shutdown()
		return
	}
	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}
	for _, c := range targets {
		c.enqueue(data)
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Uint64("seq", message.Event.Seq).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// PublishRoster broadcasts a roster change. It is the presence registry's
// change callback
func (cm *ConnectionManager) PublishRoster(roster events.RosterPayload) {
	ev, err := events.New(events.EventTypeRosterChanged, roster, time.Now())
	if err != nil {
		log.Error().Err(err).Msg("failed to build roster event")
		return
	}
	cm.Publish(ev)
}

// Count returns the number of open connections
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.connections)
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, c := range cm.connections {
		conns = append(conns, c)
	}
	cm.mu.RUnlock()
	for _, c := range conns {
		c.shutdown()
	}
}

// ID implements presence.Conn
func (c *Connection) ID() string { return c.id }

// Send implements presence.Conn. The event joins the room queue behind
// everything already published, so a reply never overtakes the broadcast of
// the change it reports
func (c *Connection) Send(event events.Event) {
	if c.manager.running.Load() {
		c.manager.SendTo(c.id, event)
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal direct event")
		return
	}
	c.enqueue(data)
}

// Close implements presence.Conn. It takes effect once the room queue has
// delivered what was sent before it, and queued messages are flushed before
// the socket closes
func (c *Connection) Close() {
	if c.manager.running.Load() {
		select {
		case c.manager.broadcastCh <- BroadcastMessage{ConnID: c.id, Close: true}:
			return
		default:
		}
	}
	c.shutdown()
}

func (c *Connection) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	c.manager.unregisterConnection(c)
}

// Team returns the team the connection joined as, or uuid.Nil
func (c *Connection) Team() uuid.UUID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.teamID
}

// Role returns "team", "spectator" or "" before join
func (c *Connection) Role() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

func (c *Connection) setIdentity(teamID uuid.UUID, role string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.teamID = teamID
	c.role = role
}

func (c *Connection) enqueue(data []byte) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	select {
	case c.send <- data:
		c.mu.Unlock()
	default:
		c.mu.Unlock()
		log.Warn().Str("connection_id", c.id).Msg("connection send buffer full, closing connection")
		c.shutdown()
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump handles reading messages from the WebSocket connection
func (c *Connection) readPump(ctx context.Context) {
	defer func() {
		c.shutdown()
		c.Conn.Close()
		c.handler.HandleClose(c)
	}()

	c.Conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected WebSocket close error")
			}
			return
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))

		if !c.limiter.Allow() {
			log.Warn().Str("connection_id", c.id).Msg("client message rate exceeded, dropping message")
			continue
		}
		c.handler.HandleMessage(ctx, c, message)
	}
}
