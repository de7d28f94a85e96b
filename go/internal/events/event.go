package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a broadcast event.
type EventType string

const (
	EventTypeStateChanged      EventType = "state-changed"
	EventTypePlotChanged       EventType = "plot-changed"
	EventTypeTeamLedgerChanged EventType = "team-ledger-changed"
	EventTypeBidAccepted       EventType = "bid-accepted"
	EventTypeBidRejected       EventType = "bid-rejected"
	EventTypeOfferCreated      EventType = "offer-created"
	EventTypeOfferSold         EventType = "offer-sold"
	EventTypeOfferCancelled    EventType = "offer-cancelled"
	EventTypeRoundChanged      EventType = "round-changed"
	EventTypeRosterChanged     EventType = "roster-changed"
	EventTypeBanned            EventType = "banned"
	EventTypeTakeover          EventType = "takeover"
	EventTypeAuctionReset      EventType = "auction-reset"
	EventTypeQuestionChanged   EventType = "question-changed"
	EventTypeHeartbeatAck      EventType = "heartbeat-ack"
	EventTypeActionResult      EventType = "action-result"
)

// Event is the envelope every client message travels in.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Seq       uint64          `json:"seq,omitempty"` // commit order; zero for connection-local events
	Ref       string          `json:"ref,omitempty"` // echoes the request ref for replies
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// New builds an event around payload.
func New(t EventType, payload any, now time.Time) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Timestamp: now.UTC(),
		Data:      data,
	}, nil
}

// Publisher delivers room-wide events. Implementations must not block.
type Publisher interface {
	Publish(event Event)
}

// Fanout publishes every event to each publisher in order.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(event Event) {
	for _, p := range f {
		if p != nil {
			p.Publish(event)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Publish implements Publisher.
func (Discard) Publish(Event) {}
