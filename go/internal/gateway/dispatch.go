package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/mcdev12/landauction/go/internal/auction"
	"github.com/mcdev12/landauction/go/internal/events"
	"github.com/mcdev12/landauction/go/internal/presence"
)

// Message types a client may send
const (
	MsgJoin        = "join"
	MsgHeartbeat   = "heartbeat"
	MsgVisibility  = "visibility"
	MsgLeave       = "leave"
	MsgPlaceBid    = "place_bid"
	MsgCreateOffer = "create_offer"
	MsgBuyOffer    = "buy_offer"
	MsgCancelOffer = "cancel_offer"
	MsgRoster      = "roster"
)

// Codes produced by the transport itself
const (
	CodeBadRequest  = "BAD_REQUEST"
	CodeNotJoined   = "NOT_JOINED"
	CodeUnknownType = "UNKNOWN_TYPE"
	CodeInternal    = "INTERNAL"
)

const (
	roleTeam      = "team"
	roleSpectator = "spectator"
)

// ClientMessage is the envelope of every inbound websocket frame
type ClientMessage struct {
	Type string          `json:"type"`
	Ref  string          `json:"ref,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type joinRequest struct {
	Role     string    `json:"role"`
	TeamID   uuid.UUID `json:"team_id"`
	Passcode string    `json:"passcode"`
}

type visibilityRequest struct {
	Visible bool `json:"visible"`
}

type bidRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type createOfferRequest struct {
	PlotNumber  int             `json:"plot_number"`
	AskingPrice decimal.Decimal `json:"asking_price"`
}

type offerRequest struct {
	OfferID uuid.UUID `json:"offer_id"`
}

type heartbeatAck struct {
	ServerTime string `json:"server_time"`
}

// Dispatcher turns client messages into engine and presence calls
type Dispatcher struct {
	engine   *auction.Engine
	presence *presence.Registry
	clock    clockwork.Clock
}

// NewDispatcher creates a dispatcher
func NewDispatcher(engine *auction.Engine, registry *presence.Registry, clock clockwork.Clock) *Dispatcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Dispatcher{engine: engine, presence: registry, clock: clock}
}

// HandleMessage implements MessageHandler
func (d *Dispatcher) HandleMessage(ctx context.Context, c *Connection, raw []byte) {
	d.Handle(ctx, c, raw)
}

// HandleClose implements MessageHandler
func (d *Dispatcher) HandleClose(c *Connection) {
	if c.Role() == "" {
		return
	}
	d.presence.Disconnect(c)
}

// Sender is what the dispatcher replies to
type Sender interface {
	ID() string
	Send(event events.Event)
}

// client is a connection whose identity the dispatcher can set
type client interface {
	presence.Conn
	Team() uuid.UUID
	Role() string
	setIdentity(teamID uuid.UUID, role string)
}

// Handle processes one raw frame from c
func (d *Dispatcher) Handle(ctx context.Context, c client, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		d.fail(c, "", "", CodeBadRequest, "message is not valid JSON")
		return
	}

	switch msg.Type {
	case MsgJoin:
		d.join(ctx, c, msg)
	case MsgHeartbeat:
		d.heartbeat(c, msg)
	case MsgVisibility:
		d.visibility(c, msg)
	case MsgLeave:
		d.leave(c, msg)
	case MsgRoster:
		d.reply(c, msg.Ref, events.EventTypeRosterChanged, d.presence.Roster())
	case MsgPlaceBid:
		d.placeBid(ctx, c, msg)
	case MsgCreateOffer:
		d.createOffer(ctx, c, msg)
	case MsgBuyOffer:
		d.buyOffer(ctx, c, msg)
	case MsgCancelOffer:
		d.cancelOffer(ctx, c, msg)
	default:
		d.fail(c, msg.Type, msg.Ref, CodeUnknownType, "unknown message type "+msg.Type)
	}
}

func (d *Dispatcher) join(ctx context.Context, c client, msg ClientMessage) {
	var req joinRequest
	if !d.decode(c, msg, &req) {
		return
	}

	if req.Role == roleSpectator || (req.Role == "" && req.TeamID == uuid.Nil) {
		c.setIdentity(uuid.Nil, roleSpectator)
		d.presence.JoinSpectator(c)
		d.ok(c, msg, map[string]string{"role": roleSpectator})
		d.sendSnapshot(ctx, c, msg.Ref)
		return
	}

	team, err := d.engine.Authenticate(ctx, req.TeamID, req.Passcode)
	if err != nil {
		d.failErr(c, msg, err)
		return
	}
	if err := d.presence.JoinTeam(team.ID, team.Name, c); err != nil {
		if errors.Is(err, presence.ErrBanned) {
			d.fail(c, msg.Type, msg.Ref, string(auction.CodeTeamBanned), "team is banned")
			return
		}
		d.failErr(c, msg, err)
		return
	}
	c.setIdentity(team.ID, roleTeam)

	log.Info().Str("team", team.Name).Str("connection_id", c.ID()).Msg("team joined")
	d.ok(c, msg, team)
	d.sendSnapshot(ctx, c, msg.Ref)
}

// sendSnapshot gives a new connection the current state and roster
func (d *Dispatcher) sendSnapshot(ctx context.Context, c Sender, ref string) {
	st, err := d.engine.State(ctx)
	if err != nil {
		log.Error().Err(err).Str("connection_id", c.ID()).Msg("failed to load state for join snapshot")
	} else {
		st.Reason = "snapshot"
		d.reply(c, ref, events.EventTypeStateChanged, st)
	}
	d.reply(c, ref, events.EventTypeRosterChanged, d.presence.Roster())
}

func (d *Dispatcher) heartbeat(c client, msg ClientMessage) {
	team, ok := d.requireTeam(c, msg)
	if !ok {
		return
	}
	if !d.presence.Heartbeat(team, c.ID()) {
		d.fail(c, msg.Type, msg.Ref, CodeNotJoined, "connection is no longer live for this team")
		return
	}
	d.reply(c, msg.Ref, events.EventTypeHeartbeatAck, heartbeatAck{
		ServerTime: d.clock.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (d *Dispatcher) visibility(c client, msg ClientMessage) {
	team, ok := d.requireTeam(c, msg)
	if !ok {
		return
	}
	var req visibilityRequest
	if !d.decode(c, msg, &req) {
		return
	}
	if !d.presence.SetVisibility(team, c.ID(), req.Visible) {
		d.fail(c, msg.Type, msg.Ref, CodeNotJoined, "connection is no longer live for this team")
		return
	}
	d.ok(c, msg, nil)
}

func (d *Dispatcher) leave(c client, msg ClientMessage) {
	switch c.Role() {
	case roleTeam:
		d.presence.Logout(c.Team(), c.ID())
	case roleSpectator:
		d.presence.Disconnect(c)
	}
	c.setIdentity(uuid.Nil, "")
	d.ok(c, msg, nil)
}

func (d *Dispatcher) placeBid(ctx context.Context, c client, msg ClientMessage) {
	team, ok := d.requireTeam(c, msg)
	if !ok {
		return
	}
	var req bidRequest
	if !d.decode(c, msg, &req) {
		return
	}
	res, err := d.engine.PlaceBid(ctx, team, req.Amount)
	if err != nil {
		if r, ok := auction.AsRejection(err); ok {
			d.reply(c, msg.Ref, events.EventTypeBidRejected, events.BidRejectedPayload{
				Code:    string(r.Code),
				Message: r.Message,
			})
			return
		}
		d.failErr(c, msg, err)
		return
	}
	d.ok(c, msg, res)
}

func (d *Dispatcher) createOffer(ctx context.Context, c client, msg ClientMessage) {
	team, ok := d.requireTeam(c, msg)
	if !ok {
		return
	}
	var req createOfferRequest
	if !d.decode(c, msg, &req) {
		return
	}
	offer, err := d.engine.CreateOffer(ctx, team, req.PlotNumber, req.AskingPrice)
	if err != nil {
		d.failErr(c, msg, err)
		return
	}
	d.ok(c, msg, offer)
}

func (d *Dispatcher) buyOffer(ctx context.Context, c client, msg ClientMessage) {
	team, ok := d.requireTeam(c, msg)
	if !ok {
		return
	}
	var req offerRequest
	if !d.decode(c, msg, &req) {
		return
	}
	offer, err := d.engine.BuyOffer(ctx, team, req.OfferID)
	if err != nil {
		d.failErr(c, msg, err)
		return
	}
	d.ok(c, msg, offer)
}

func (d *Dispatcher) cancelOffer(ctx context.Context, c client, msg ClientMessage) {
	team, ok := d.requireTeam(c, msg)
	if !ok {
		return
	}
	var req offerRequest
	if !d.decode(c, msg, &req) {
		return
	}
	offer, err := d.engine.CancelOffer(ctx, team, req.OfferID)
	if err != nil {
		d.failErr(c, msg, err)
		return
	}
	d.ok(c, msg, offer)
}

// requireTeam returns the team behind c, replying with an error when the
// connection has not joined as a team or has been taken over.
func (d *Dispatcher) requireTeam(c client, msg ClientMessage) (uuid.UUID, bool) {
	team := c.Team()
	if c.Role() != roleTeam || team == uuid.Nil {
		d.fail(c, msg.Type, msg.Ref, CodeNotJoined, "join as a team first")
		return uuid.Nil, false
	}
	if !d.presence.Connected(team, c.ID()) {
		d.fail(c, msg.Type, msg.Ref, CodeNotJoined, "connection is no longer live for this team")
		return uuid.Nil, false
	}
	return team, true
}

func (d *Dispatcher) decode(c Sender, msg ClientMessage, v any) bool {
	if len(msg.Data) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Data, v); err != nil {
		d.fail(c, msg.Type, msg.Ref, CodeBadRequest, "invalid data for "+msg.Type)
		return false
	}
	return true
}

func (d *Dispatcher) ok(c Sender, msg ClientMessage, result any) {
	d.reply(c, msg.Ref, events.EventTypeActionResult, events.ActionResultPayload{
		Action: msg.Type,
		OK:     true,
		Result: result,
	})
}

func (d *Dispatcher) failErr(c Sender, msg ClientMessage, err error) {
	code, message := errorCode(err)
	if code == CodeInternal {
		log.Error().Err(err).Str("action", msg.Type).Str("connection_id", c.ID()).Msg("client action failed")
	}
	d.fail(c, msg.Type, msg.Ref, code, message)
}

func (d *Dispatcher) fail(c Sender, action, ref, code, message string) {
	d.reply(c, ref, events.EventTypeActionResult, events.ActionResultPayload{
		Action: action,
		Code:   code,
		Error:  message,
	})
}

func (d *Dispatcher) reply(c Sender, ref string, t events.EventType, payload any) {
	ev, err := events.New(t, payload, d.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event_type", string(t)).Msg("failed to build reply")
		return
	}
	ev.Ref = ref
	c.Send(ev)
}

// errorCode maps an engine error to a client-facing code and message
func errorCode(err error) (string, string) {
	if r, ok := auction.AsRejection(err); ok {
		return string(r.Code), r.Message
	}
	var nf *auction.NotFoundError
	if errors.As(err, &nf) {
		return nf.Code(), nf.Error()
	}
	return CodeInternal, "internal error"
}
