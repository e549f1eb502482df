package incidents

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

type Status string

const (
	StatusReported Status = "REPORTED"
	StatusVerified Status = "VERIFIED"
)

// ParseStatus accepts a status in any letter case. The empty string means
// "no filter" and is returned as is.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToUpper(s)) {
	case "":
		return "", nil
	case StatusReported:
		return StatusReported, nil
	case StatusVerified:
		return StatusVerified, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
}

// Incident is a community report flagging a suspicious account. JSON names
// follow the dashboard client.
type Incident struct {
	ID                string    `json:"_id"`
	SuspiciousAddress string    `json:"suspiciousAddress"`
	Details           string    `json:"details"`
	Reporter          string    `json:"reporter"`
	ReportSignature   string    `json:"signature"`
	Timestamp         int64     `json:"timestamp"`
	Status            Status    `json:"status"`
	Verifiers         []string  `json:"verifiedBy"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func (i *Incident) HasVerifier(account string) bool {
	for _, v := range i.Verifiers {
		if strings.EqualFold(v, account) {
			return true
		}
	}
	return false
}

func (i *Incident) Clone() *Incident {
	c := *i
	c.Verifiers = slices.Clone(i.Verifiers)
	if c.Verifiers == nil {
		c.Verifiers = []string{}
	}
	return &c
}

// ApplyVerifier performs the single permitted mutation of an incident: it
// appends verifier unless already present and promotes a REPORTED incident
// once the verifier count reaches quorum. Callers must hold the incident's
// critical section. verifier must already be normalized.
func ApplyVerifier(inc *Incident, verifier string, quorum int, now time.Time) (appended, transitioned bool) {
	if inc.HasVerifier(verifier) {
		return false, false
	}
	inc.Verifiers = append(inc.Verifiers, verifier)
	inc.UpdatedAt = now
	if inc.Status == StatusReported && len(inc.Verifiers) >= quorum {
		inc.Status = StatusVerified
		transitioned = true
	}
	return true, transitioned
}

// SortNewestFirst orders by client timestamp, newest first. Ties fall back to
// creation time and then id so that listings are stable.
func SortNewestFirst(list []Incident) {
	slices.SortStableFunc(list, func(a, b Incident) int {
		switch {
		case a.Timestamp != b.Timestamp:
			if a.Timestamp > b.Timestamp {
				return -1
			}
			return 1
		case !a.CreatedAt.Equal(b.CreatedAt):
			if a.CreatedAt.After(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
}
