package incidents

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store owns persisted incidents. AppendVerifier is the only mutation path
// after creation.
type Store interface {
	// Create inserts inc as REPORTED with no verifiers and assigns its ID.
	Create(ctx context.Context, inc *Incident) (string, error)
	// Get returns ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (*Incident, error)
	// List returns incidents newest first by client timestamp.
	List(ctx context.Context, f ListFilter) ([]Incident, error)
	// AppendVerifier atomically appends verifier if absent and promotes the
	// incident to VERIFIED when the count reaches quorum. Concurrent calls for
	// the same id are serialized; a duplicate verifier is a no-op.
	AppendVerifier(ctx context.Context, id, verifier string, quorum int) (AppendResult, error)
}

type AppendResult struct {
	Incident     *Incident
	Appended     bool
	Transitioned bool
}

type ListFilter struct {
	Status Status
	Limit  int
}

// Matches reports whether inc passes the status filter.
func (f ListFilter) Matches(inc *Incident) bool {
	return f.Status == "" || inc.Status == f.Status
}

// Truncate applies the limit to an already ordered listing.
func (f ListFilter) Truncate(list []Incident) []Incident {
	if f.Limit > 0 && len(list) > f.Limit {
		return list[:f.Limit]
	}
	return list
}

// NewID returns a fresh opaque incident id.
func NewID() string {
	return uuid.NewString()
}

// PrepareNew resets the server-owned fields of a new incident and assigns
// its id. Store implementations call it from Create.
func PrepareNew(inc *Incident, now time.Time) string {
	inc.ID = NewID()
	inc.Status = StatusReported
	inc.Verifiers = []string{}
	inc.CreatedAt = now
	inc.UpdatedAt = now
	return inc.ID
}
