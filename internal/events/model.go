package events

import "time"

type Kind string

const (
	KindIncidentReported          Kind = "incident_reported"
	KindIncidentPartiallyVerified Kind = "incident_partially_verified"
	KindIncidentVerified          Kind = "incident_verified"
)

// Event is a domain event emitted on an incident state transition.
type Event interface {
	Kind() Kind
	Incident() string
}

type IncidentReported struct {
	ID         string
	OccurredAt time.Time
}

func (e IncidentReported) Kind() Kind       { return KindIncidentReported }
func (e IncidentReported) Incident() string { return e.ID }

// IncidentPartiallyVerified is emitted when a verifier was appended but the
// quorum is not reached yet.
type IncidentPartiallyVerified struct {
	ID         string
	WatcherID  string
	Count      int
	OccurredAt time.Time
}

func (e IncidentPartiallyVerified) Kind() Kind       { return KindIncidentPartiallyVerified }
func (e IncidentPartiallyVerified) Incident() string { return e.ID }

// IncidentVerified is emitted once per incident on promotion. Replay is set
// when an operator re-emits it by hand.
type IncidentVerified struct {
	ID         string
	Count      int
	Replay     bool
	OccurredAt time.Time
}

func (e IncidentVerified) Kind() Kind       { return KindIncidentVerified }
func (e IncidentVerified) Incident() string { return e.ID }
