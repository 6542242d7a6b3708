// Package registry owns the authoritative room state: which rooms exist,
// who is in them, and what options they hold. Every mutation to a room is
// serialized here, and the corresponding broadcast is published before the
// lock is released, so the order clients observe is exactly the order the
// registry applied.
package registry

import (
	"context"
	"strings"
	"sync"

	"github.com/SelinCifcii/decision-wheel/internal/domain"
	"github.com/SelinCifcii/decision-wheel/internal/errors"
	"github.com/SelinCifcii/decision-wheel/internal/event"
	"github.com/SelinCifcii/decision-wheel/internal/roomcode"
)

// Publisher fans a room broadcast out to every connected client of the room.
// Implementations must preserve per-room call order.
type Publisher interface {
	RoomJoined(ctx context.Context, code string, room *domain.Room) error
	OptionAdded(ctx context.Context, code string, options []domain.Option) error
	SelectionResult(ctx context.Context, code string, outcome domain.SelectionOutcome) error
}

type Config struct {
	EventBus  *event.Bus
	Publisher Publisher
}

type Service struct {
	eb  *event.Bus
	pub Publisher

	mu      sync.Mutex
	rooms   map[string]*room
	members map[string]*member // connection id -> membership
}

type room struct {
	code    string
	members []*member // join order
	options []domain.Option
}

type member struct {
	connID string
	name   string
	room   *room
}

func NewService(c Config) *Service {
	return &Service{
		eb:      c.EventBus,
		pub:     c.Publisher,
		rooms:   make(map[string]*room),
		members: make(map[string]*member),
	}
}

// CreateRoomRequest registers a new room under a client-generated code.
// The creator becomes the room's first participant.
type CreateRoomRequest struct {
	Code     string
	ConnID   string
	Username string
}

func (s *Service) CreateRoom(ctx context.Context, req CreateRoomRequest) error {
	code := roomcode.Normalize(req.Code)
	if !roomcode.Valid(code) {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("malformed room code: %q", req.Code))
	}

	name := strings.TrimSpace(req.Username)
	if name == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("display name must not be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Codes are not guaranteed unique by the generator; the registry is
	// where collisions get caught. Reject rather than overwrite, the
	// creator can generate a fresh code and retry.
	if _, ok := s.rooms[code]; ok {
		return errors.New(errors.CodeAlreadyExists,
			errors.WithMessagef("room already exists: code=%s", code))
	}

	if err := s.checkNotMember(req.ConnID); err != nil {
		return err
	}

	r := &room{code: code}
	m := &member{connID: req.ConnID, name: name, room: r}
	r.members = append(r.members, m)

	s.rooms[code] = r
	s.members[req.ConnID] = m

	s.eb.Publish(ctx, domain.EventRoomCreated{Code: code})
	s.eb.Publish(ctx, domain.EventJoined{Code: code, Participant: domain.Participant{Name: name}})

	return s.publishSnapshot(ctx, r)
}

// JoinRoomRequest adds a participant to an existing room.
type JoinRoomRequest struct {
	Code     string
	ConnID   string
	Username string
}

func (s *Service) JoinRoom(ctx context.Context, req JoinRoomRequest) error {
	name := strings.TrimSpace(req.Username)
	if name == "" {
		return errors.New(errors.CodeInvalidArgument,
			errors.WithMessagef("display name must not be empty"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomcode.Normalize(req.Code)]
	if !ok {
		return errors.New(errors.CodeNotFound,
			errors.WithMessagef("room not found: code=%s", roomcode.Normalize(req.Code)))
	}

	if err := s.checkNotMember(req.ConnID); err != nil {
		return err
	}

	m := &member{connID: req.ConnID, name: name, room: r}
	r.members = append(r.members, m)
	s.members[req.ConnID] = m

	s.eb.Publish(ctx, domain.EventJoined{Code: r.code, Participant: domain.Participant{Name: name}})

	return s.publishSnapshot(ctx, r)
}

// AddOptionRequest appends an option to the room's shared list. Options are
// never individually removed.
type AddOptionRequest struct {
	Code   string
	ConnID string
	Option domain.Option
}

func (s *Service) AddOption(ctx context.Context, req AddOptionRequest) error {
	text := strings.TrimSpace(req.Option.Text)
	if text == "" {
		// Documented no-op, mirroring the client side. Nothing is sent.
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, m, err := s.memberOf(req.Code, req.ConnID)
	if err != nil {
		return err
	}

	opt := domain.Option{Text: text, ProposedBy: m.name}
	r.options = append(r.options, opt)

	s.eb.Publish(ctx, domain.EventOptionAdded{Code: r.code, Option: opt})

	options := make([]domain.Option, len(r.options))
	copy(options, r.options)

	if err := s.pub.OptionAdded(ctx, r.code, options); err != nil {
		return errors.Internal(err)
	}
	return nil
}

// PublishSelectionRequest disseminates a spin outcome decided by one
// participant to every client in the room. The registry does not compute
// winners; it fans out the single authoritative outcome exactly once.
type PublishSelectionRequest struct {
	Code   string
	ConnID string
	Option domain.Option
}

func (s *Service) PublishSelection(ctx context.Context, req PublishSelectionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, _, err := s.memberOf(req.Code, req.ConnID)
	if err != nil {
		return err
	}

	outcome := domain.SelectionOutcome{Winning: req.Option}

	s.eb.Publish(ctx, domain.EventSelectionMade{Code: r.code, Outcome: outcome})

	if err := s.pub.SelectionResult(ctx, r.code, outcome); err != nil {
		return errors.Internal(err)
	}
	return nil
}

// LeaveRequest removes whatever membership the connection holds. Called on
// connection close; unknown connections are a no-op.
type LeaveRequest struct {
	ConnID string
}

func (s *Service) Leave(ctx context.Context, req LeaveRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.members[req.ConnID]
	if !ok {
		return nil
	}
	delete(s.members, req.ConnID)

	r := m.room
	for i, rm := range r.members {
		if rm == m {
			r.members = append(r.members[:i], r.members[i+1:]...)
			break
		}
	}

	s.eb.Publish(ctx, domain.EventLeft{Code: r.code, Participant: domain.Participant{Name: m.name}})

	if len(r.members) == 0 {
		delete(s.rooms, r.code)
		s.eb.Publish(ctx, domain.EventRoomDisposed{Code: r.code})
		return nil
	}

	return s.publishSnapshot(ctx, r)
}

// Snapshot returns a copy of the room's current state.
func (s *Service) Snapshot(_ context.Context, code string) (*domain.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[roomcode.Normalize(code)]
	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("room not found: code=%s", roomcode.Normalize(code)))
	}

	return r.snapshot(), nil
}

// RoomCount reports the number of live rooms.
func (s *Service) RoomCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rooms)
}

func (s *Service) checkNotMember(connID string) error {
	if m, ok := s.members[connID]; ok {
		return errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("connection is already in room %s", m.room.code))
	}
	return nil
}

// memberOf resolves the room and the caller's membership in it.
// Callers must hold s.mu.
func (s *Service) memberOf(code, connID string) (*room, *member, error) {
	r, ok := s.rooms[roomcode.Normalize(code)]
	if !ok {
		return nil, nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("room not found: code=%s", roomcode.Normalize(code)))
	}

	m, ok := s.members[connID]
	if !ok || m.room != r {
		return nil, nil, errors.New(errors.CodeFailedPrecondition,
			errors.WithMessagef("connection is not a member of room %s", r.code))
	}

	return r, m, nil
}

// publishSnapshot broadcasts the room's full state. Callers must hold s.mu,
// which is what keeps broadcast order equal to application order.
func (s *Service) publishSnapshot(ctx context.Context, r *room) error {
	if err := s.pub.RoomJoined(ctx, r.code, r.snapshot()); err != nil {
		return errors.Internal(err)
	}
	return nil
}

func (r *room) snapshot() *domain.Room {
	snap := &domain.Room{
		Code:         r.code,
		Participants: make([]domain.Participant, 0, len(r.members)),
		Options:      make([]domain.Option, len(r.options)),
	}
	for _, m := range r.members {
		snap.Participants = append(snap.Participants, domain.Participant{Name: m.name})
	}
	copy(snap.Options, r.options)
	return snap
}
