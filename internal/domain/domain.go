package domain

// Participant is a display-name-identified member of a room.
// There is no stable user id; two participants may share a name.
type Participant struct {
	Name string
}

// Option is a proposed item in the shared decision list.
type Option struct {
	Text       string
	ProposedBy string
}

// Room is the full state of a shared session: who is in it and what has
// been proposed so far. The registry owns the authoritative copy; clients
// hold read-only caches replaced wholesale by server pushes.
//
// Participants are ordered by join time, Options by insertion. Option order
// is significant (it drives the wheel layout) but does not affect the
// selection distribution.
type Room struct {
	Code         string
	Participants []Participant
	Options      []Option
}

// SelectionOutcome is the result of a single spin. It is ephemeral: produced
// once, delivered to every client currently in the room, never persisted.
type SelectionOutcome struct {
	Winning Option
}
