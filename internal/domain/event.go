package domain

const (
	EventNameRoomCreated   = "room.created"
	EventNameRoomDisposed  = "room.disposed"
	EventNameJoined        = "room.participant_joined"
	EventNameLeft          = "room.participant_left"
	EventNameOptionAdded   = "room.option_added"
	EventNameSelectionMade = "room.selection_made"
)

type EventRoomCreated struct {
	Code string
}

func (EventRoomCreated) Name() string { return EventNameRoomCreated }

type EventRoomDisposed struct {
	Code string
}

func (EventRoomDisposed) Name() string { return EventNameRoomDisposed }

type EventJoined struct {
	Code        string
	Participant Participant
}

func (EventJoined) Name() string { return EventNameJoined }

type EventLeft struct {
	Code        string
	Participant Participant
}

func (EventLeft) Name() string { return EventNameLeft }

type EventOptionAdded struct {
	Code   string
	Option Option
}

func (EventOptionAdded) Name() string { return EventNameOptionAdded }

type EventSelectionMade struct {
	Code    string
	Outcome SelectionOutcome
}

func (EventSelectionMade) Name() string { return EventNameSelectionMade }
