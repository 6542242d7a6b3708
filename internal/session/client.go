// Package session is the per-device core: it owns the transport connection,
// tracks the locally known view of the current room, and exposes the intent
// operations the presentation layer calls. The local view is a read-only
// cache; it changes only when the registry echoes a mutation back, never
// optimistically, which is what keeps every device convergent.
package session

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/SelinCifcii/decision-wheel/internal/api"
	"github.com/SelinCifcii/decision-wheel/internal/domain"
	"github.com/SelinCifcii/decision-wheel/internal/errors"
	"github.com/SelinCifcii/decision-wheel/internal/roomcode"
	"github.com/SelinCifcii/decision-wheel/internal/selection"
)

// State is the client's connection/membership state.
type State string

const (
	// StateDisconnected means no transport is established. Membership never
	// survives a disconnect; rejoin is explicit.
	StateDisconnected State = "disconnected"
	// StateConnected means the transport is up and the client is in no room.
	StateConnected State = "connected"
	// StateJoining means a create/join intent is in flight, awaiting the
	// registry's snapshot.
	StateJoining State = "joining"
	// StateInRoom means the client is an acknowledged member and its cache
	// is kept current by inbound events.
	StateInRoom State = "in_room"
)

const defaultAckTimeout = 5 * time.Second

// Transport is a persistent, ordered, bidirectional message channel to the
// registry. Receive blocks until a message arrives or the connection dies.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, env *api.Envelope) error
	Receive(ctx context.Context) (*api.Envelope, error)
	Close() error
}

// Listener receives the client's state-change notifications. Callbacks fire
// on the client's single receive loop (or on the intent call that caused
// them) and must not block.
type Listener interface {
	StateChanged(s State)
	RoomSnapshot(participants []domain.Participant, options []domain.Option)
	OptionsChanged(options []domain.Option)
	SelectionReceived(outcome domain.SelectionOutcome)
	ErrorReceived(err error)
}

type Config struct {
	Transport Transport
	Listener  Listener

	// Generator and Coordinator default to fresh instances.
	Generator   *roomcode.Generator
	Coordinator *selection.Coordinator

	// AckTimeout bounds how long a create/join intent may sit unanswered
	// before the client gives up and reports a connection error.
	AckTimeout time.Duration
}

// Client is the single stateful object per device. One instance, passed
// explicitly to whatever needs it; it is safe for concurrent use.
type Client struct {
	tr         Transport
	ln         Listener
	gen        *roomcode.Generator
	coord      *selection.Coordinator
	ackTimeout time.Duration

	mu          sync.Mutex
	state       State
	provisional bool
	attempt     int  // join attempt generation, invalidates stale timers
	pendingJoin bool // intent sent, registry's accept/reject not yet seen
	code        string
	name        string
	room        domain.Room
	lastOutcome *domain.SelectionOutcome
	recvCancel  context.CancelFunc
}

func NewClient(c Config) *Client {
	cl := &Client{
		tr:         c.Transport,
		ln:         c.Listener,
		gen:        c.Generator,
		coord:      c.Coordinator,
		ackTimeout: c.AckTimeout,
		state:      StateDisconnected,
	}

	if cl.ln == nil {
		cl.ln = nopListener{}
	}
	if cl.gen == nil {
		cl.gen = roomcode.NewGenerator(roomcode.Config{})
	}
	if cl.coord == nil {
		cl.coord = selection.NewCoordinator(selection.Config{})
	}
	if cl.ackTimeout <= 0 {
		cl.ackTimeout = defaultAckTimeout
	}

	return cl
}

// Connect establishes the transport. Idempotent when already connected.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.tr.Connect(ctx); err != nil {
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("transport unavailable"), errors.WithCause(err))
	}

	recvCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	c.state = StateConnected
	c.recvCancel = cancel
	c.mu.Unlock()

	go c.receiveLoop(recvCtx)

	c.ln.StateChanged(StateConnected)
	return nil
}

// CreateRoom generates a code locally and sends the create intent. The code
// returns synchronously so the UI can display and share it immediately; it
// stays provisional until the registry's snapshot confirms membership.
func (c *Client) CreateRoom(ctx context.Context, displayName string) (string, error) {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return "", errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("display name must not be empty"))
	}

	code := c.gen.Generate()

	env, err := api.NewEnvelope(api.MsgTypeCreateRoom, api.CreateRoomPayload{
		RoomCode: code,
		Username: name,
	})
	if err != nil {
		return "", err
	}

	if err := c.sendJoinIntent(ctx, env, code, name); err != nil {
		return "", err
	}

	return code, nil
}

// JoinRoom sends the join intent for an existing room. The result arrives
// asynchronously: a snapshot on success, a not-found error on rejection.
func (c *Client) JoinRoom(ctx context.Context, code, displayName string) error {
	name := strings.TrimSpace(displayName)
	if name == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("display name must not be empty"))
	}

	code = roomcode.Normalize(code)
	if !roomcode.Valid(code) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed room code: %q", code))
	}

	env, err := api.NewEnvelope(api.MsgTypeJoinRoom, api.JoinRoomPayload{
		RoomCode: code,
		Username: name,
	})
	if err != nil {
		return err
	}

	return c.sendJoinIntent(ctx, env, code, name)
}

// sendJoinIntent runs the shared Connected -> Joining transition for create
// and join, and arms the ack timeout.
func (c *Client) sendJoinIntent(ctx context.Context, env *api.Envelope, code, name string) error {
	c.mu.Lock()
	if c.state != StateConnected {
		state := c.state
		c.mu.Unlock()
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot join a room from state %q", state))
	}

	c.state = StateJoining
	c.provisional = true
	c.pendingJoin = true
	c.code = code
	c.name = name
	c.attempt++
	attempt := c.attempt
	c.mu.Unlock()

	c.ln.StateChanged(StateJoining)

	if err := c.tr.Send(ctx, env); err != nil {
		c.transportLost(err)
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("transport lost"), errors.WithCause(err))
	}

	time.AfterFunc(c.ackTimeout, func() { c.joinTimedOut(attempt) })
	return nil
}

func (c *Client) joinTimedOut(attempt int) {
	c.mu.Lock()
	if c.attempt != attempt {
		c.mu.Unlock()
		return
	}
	// The rejection window closes with the timer either way: a snapshot
	// that moved us to InRoom is now taken as this attempt's ack.
	c.pendingJoin = false
	if c.state != StateJoining {
		c.mu.Unlock()
		return
	}
	c.state = StateConnected
	c.provisional = false
	c.code = ""
	c.mu.Unlock()

	c.ln.StateChanged(StateConnected)
	c.ln.ErrorReceived(errors.New(errors.CodeUnavailable,
		errors.WithMessagef("no acknowledgment within %s", c.ackTimeout)))
}

// ProposeOption sends an append intent for the current room. Empty or
// whitespace-only text is a documented no-op: nothing is sent, no error.
// The local option cache does not change until the registry echoes the
// updated sequence back.
func (c *Client) ProposeOption(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.mu.Lock()
	if c.state != StateInRoom {
		state := c.state
		c.mu.Unlock()
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot propose an option from state %q", state))
	}
	code, name := c.code, c.name
	c.mu.Unlock()

	env, err := api.NewEnvelope(api.MsgTypeAddOption, api.AddOptionPayload{
		RoomCode: code,
		Option:   api.OptionPayload{Username: name, Text: text},
	})
	if err != nil {
		return err
	}

	if err := c.tr.Send(ctx, env); err != nil {
		c.transportLost(err)
		return errors.New(errors.CodeUnavailable,
			errors.WithMessagef("transport lost"), errors.WithCause(err))
	}

	return nil
}

// Spin decides a winner over the cached option sequence and publishes it to
// the room. This client is the authoritative decider for the spin it
// triggered; every member, itself included, receives the outcome through
// the broadcast.
func (c *Client) Spin(ctx context.Context) (*domain.SelectionOutcome, error) {
	c.mu.Lock()
	if c.state != StateInRoom {
		state := c.state
		c.mu.Unlock()
		return nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("cannot spin from state %q", state))
	}
	code := c.code
	options := make([]domain.Option, len(c.room.Options))
	copy(options, c.room.Options)
	c.mu.Unlock()

	outcome, err := c.coord.Spin(options)
	if err != nil {
		return nil, err
	}

	env, err := api.NewEnvelope(api.MsgTypeSpinResult, api.SpinResultPayload{
		RoomCode: code,
		Option: api.OptionPayload{
			Username: outcome.Winning.ProposedBy,
			Text:     outcome.Winning.Text,
		},
	})
	if err != nil {
		return nil, err
	}

	if err := c.tr.Send(ctx, env); err != nil {
		c.transportLost(err)
		return nil, errors.New(errors.CodeUnavailable,
			errors.WithMessagef("transport lost"), errors.WithCause(err))
	}

	return outcome, nil
}

// Close tears the transport down deliberately.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDisconnected
	c.resetLocked()
	cancel := c.recvCancel
	c.recvCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := c.tr.Close()

	c.ln.StateChanged(StateDisconnected)
	return err
}

// State reports the current connection/membership state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// RoomCode is the code of the room the client created or joined; empty when
// in no room. Provisional reports whether membership is still unconfirmed.
func (c *Client) RoomCode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.code
}

func (c *Client) Provisional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.provisional
}

// Participants returns the cached participant list in join order.
func (c *Client) Participants() []domain.Participant {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Participant, len(c.room.Participants))
	copy(out, c.room.Participants)
	return out
}

// Options returns the cached option sequence in insertion order.
func (c *Client) Options() []domain.Option {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Option, len(c.room.Options))
	copy(out, c.room.Options)
	return out
}

// LastOutcome returns the most recent selection outcome, or nil if none has
// been received on this connection.
func (c *Client) LastOutcome() *domain.SelectionOutcome {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lastOutcome == nil {
		return nil
	}
	outcome := *c.lastOutcome
	return &outcome
}

func (c *Client) resetLocked() {
	c.provisional = false
	c.pendingJoin = false
	c.code = ""
	c.name = ""
	c.room = domain.Room{}
	c.lastOutcome = nil
}

// transportLost handles an unexpected connection loss: membership does not
// survive, the next step is an explicit Connect and re-join.
func (c *Client) transportLost(cause error) {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	c.resetLocked()
	cancel := c.recvCancel
	c.recvCancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.tr.Close()

	c.ln.StateChanged(StateDisconnected)
	c.ln.ErrorReceived(errors.New(errors.CodeUnavailable,
		errors.WithMessagef("transport lost"), errors.WithCause(cause)))
}

// receiveLoop is the client's single event loop: every inbound message is
// applied here, in arrival order, which is the registry's application order.
func (c *Client) receiveLoop(ctx context.Context) {
	for {
		env, err := c.tr.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // deliberate close
			}
			c.transportLost(err)
			return
		}

		c.handle(env)
	}
}

func (c *Client) handle(env *api.Envelope) {
	switch env.Type {
	case api.MsgTypeRoomJoined:
		var p api.RoomJoinedPayload
		if err := env.Decode(&p); err != nil {
			c.ln.ErrorReceived(err)
			return
		}
		c.applySnapshot(p)

	case api.MsgTypeOptionAdded:
		var p api.OptionAddedPayload
		if err := env.Decode(&p); err != nil {
			c.ln.ErrorReceived(err)
			return
		}

		options := api.OptionsFromWire(p.Options)
		c.mu.Lock()
		c.room.Options = options
		c.mu.Unlock()

		c.ln.OptionsChanged(options)

	case api.MsgTypeSelectionResult:
		var p api.SelectionResultPayload
		if err := env.Decode(&p); err != nil {
			c.ln.ErrorReceived(err)
			return
		}

		outcome := domain.SelectionOutcome{
			Winning: domain.Option{Text: p.Option.Text, ProposedBy: p.Option.Username},
		}
		c.mu.Lock()
		c.lastOutcome = &outcome
		c.mu.Unlock()

		c.ln.SelectionReceived(outcome)

	case api.MsgTypeError:
		var p api.ErrorPayload
		if err := env.Decode(&p); err != nil {
			c.ln.ErrorReceived(err)
			return
		}
		c.applyServerError(p)
	}
}

// applySnapshot replaces the local cache wholesale. A snapshot while
// Joining doubles as the join acknowledgment.
func (c *Client) applySnapshot(p api.RoomJoinedPayload) {
	participants := make([]domain.Participant, 0, len(p.Participants))
	for _, name := range p.Participants {
		participants = append(participants, domain.Participant{Name: name})
	}
	options := api.OptionsFromWire(p.Options)

	var confirmed bool
	c.mu.Lock()
	c.room.Code = c.code
	c.room.Participants = participants
	c.room.Options = options
	if c.state == StateJoining {
		c.state = StateInRoom
		c.provisional = false
		confirmed = true
	}
	c.mu.Unlock()

	if confirmed {
		c.ln.StateChanged(StateInRoom)
	}
	c.ln.RoomSnapshot(participants, options)
}

// applyServerError surfaces a rejected intent. A rejection resolves the
// outstanding join attempt back to Connected, including when a broadcast
// snapshot for the room raced ahead of the registry's reject and already
// flipped the state to InRoom. The server subscribes the connection to the
// room's broadcasts before applying the intent, so that interleaving is
// possible.
func (c *Client) applyServerError(p api.ErrorPayload) {
	code := errors.Code(p.Code)

	var resolved bool
	c.mu.Lock()
	if c.state == StateJoining || (c.pendingJoin && rejectsJoin(code)) {
		c.state = StateConnected
		c.resetLocked()
		resolved = true
	}
	c.mu.Unlock()

	if resolved {
		c.ln.StateChanged(StateConnected)
	}
	c.ln.ErrorReceived(errors.New(code, errors.WithMessagef("%s", p.Message)))
}

// rejectsJoin reports whether a server error code denies room membership,
// as opposed to rejecting some later in-room intent.
func rejectsJoin(code errors.Code) bool {
	return code == errors.CodeNotFound || code == errors.CodeAlreadyExists
}

type nopListener struct{}

func (nopListener) StateChanged(State)                                 {}
func (nopListener) RoomSnapshot([]domain.Participant, []domain.Option) {}
func (nopListener) OptionsChanged([]domain.Option)                     {}
func (nopListener) SelectionReceived(domain.SelectionOutcome)          {}
func (nopListener) ErrorReceived(error)                                {}
