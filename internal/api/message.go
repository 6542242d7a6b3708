package api

import (
	"encoding/json"
	"fmt"

	"github.com/SelinCifcii/decision-wheel/internal/domain"
)

// Client → server message types.
const (
	MsgTypeCreateRoom = "createRoom"
	MsgTypeJoinRoom   = "joinRoom"
	MsgTypeAddOption  = "addOption"
	MsgTypeSpinResult = "spinResult"
)

// Server → client message types.
const (
	MsgTypeRoomJoined      = "roomJoined"      // full snapshot on join/create and on membership change
	MsgTypeOptionAdded     = "optionAdded"     // full option sequence after an append
	MsgTypeSelectionResult = "selectionResult" // spin outcome, delivered exactly once per spin
	MsgTypeError           = "error"           // rejection of a client intent
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into a typed frame.
func NewEnvelope(msgType string, payload any) (*Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("api: marshal %s payload: %w", msgType, err)
	}

	return &Envelope{Type: msgType, Payload: b}, nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("api: decode %s payload: %w", e.Type, err)
	}
	return nil
}

type OptionPayload struct {
	Username string `json:"username"`
	Text     string `json:"text"`
}

type CreateRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type AddOptionPayload struct {
	RoomCode string        `json:"roomCode"`
	Option   OptionPayload `json:"option"`
}

type SpinResultPayload struct {
	RoomCode string        `json:"roomCode"`
	Option   OptionPayload `json:"option"`
}

type RoomJoinedPayload struct {
	Participants []string        `json:"participants"`
	Options      []OptionPayload `json:"options"`
}

type OptionAddedPayload struct {
	Options []OptionPayload `json:"options"`
}

type SelectionResultPayload struct {
	Option OptionPayload `json:"option"`
}

type ErrorPayload struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// OptionsToWire converts domain options preserving insertion order.
func OptionsToWire(options []domain.Option) []OptionPayload {
	wire := make([]OptionPayload, 0, len(options))
	for _, o := range options {
		wire = append(wire, OptionPayload{Username: o.ProposedBy, Text: o.Text})
	}
	return wire
}

// OptionsFromWire is the inverse of OptionsToWire.
func OptionsFromWire(wire []OptionPayload) []domain.Option {
	options := make([]domain.Option, 0, len(wire))
	for _, o := range wire {
		options = append(options, domainOption(o))
	}
	return options
}

func domainOption(o OptionPayload) domain.Option {
	return domain.Option{Text: o.Text, ProposedBy: o.Username}
}
