package types

import (
	"encoding/json"
	"fmt"
)

// Status is the lifecycle state of a post.
type Status string

const (
	StatusDraft        Status = "draft"
	StatusScheduled    Status = "scheduled"
	StatusScheduling   Status = "scheduling"
	StatusScheduledOnX Status = "scheduled_on_x"
	StatusPosting      Status = "posting"
	StatusPosted       Status = "posted"
	StatusError        Status = "error"
)

// AllStatuses lists every status in display order.
var AllStatuses = []Status{
	StatusDraft,
	StatusScheduled,
	StatusScheduling,
	StatusScheduledOnX,
	StatusPosting,
	StatusPosted,
	StatusError,
}

// StatusInfo is the data associated with each status.
type StatusInfo struct {
	Label string
	// Transient states are owned by the backend; the client only observes them.
	Transient bool
	// Terminal states have no further lifecycle transition.
	Terminal bool
	// NeedsSchedule states require a scheduled_at.
	NeedsSchedule bool
}

var statusTable = map[Status]StatusInfo{
	StatusDraft:        {Label: "Draft"},
	StatusScheduled:    {Label: "Scheduled", NeedsSchedule: true},
	StatusScheduling:   {Label: "Scheduling", Transient: true, NeedsSchedule: true},
	StatusScheduledOnX: {Label: "Scheduled on X", NeedsSchedule: true},
	StatusPosting:      {Label: "Posting", Transient: true},
	StatusPosted:       {Label: "Posted", Terminal: true},
	StatusError:        {Label: "Error"},
}

// Info returns the associated data. ok is false for unknown values.
func (s Status) Info() (StatusInfo, bool) {
	info, ok := statusTable[s]
	return info, ok
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := statusTable[s]
	return ok
}

// Label is the human readable name.
func (s Status) Label() string {
	if info, ok := statusTable[s]; ok {
		return info.Label
	}
	return string(s)
}

func (s Status) IsTransient() bool     { return statusTable[s].Transient }
func (s Status) IsTerminal() bool      { return statusTable[s].Terminal }
func (s Status) RequiresSchedule() bool { return statusTable[s].NeedsSchedule }

// ParseStatus converts a wire value, rejecting unknown statuses.
func ParseStatus(v string) (Status, error) {
	s := Status(v)
	if !s.Valid() {
		return "", fmt.Errorf("unknown post status %q", v)
	}
	return s, nil
}

// UnmarshalJSON rejects statuses outside the known set so a new backend value
// cannot fall through to a default.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// AnyTransient reports whether any post is mid-transition.
func AnyTransient(posts []Post) bool {
	for _, p := range posts {
		if p.Status.IsTransient() {
			return true
		}
	}
	return false
}
