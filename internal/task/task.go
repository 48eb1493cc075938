package task

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultColor is the color assigned to records that never had one.
const DefaultColor = "#000000"

// Importance ranks a task. The zero value is ImportanceNormal.
type Importance int

const (
	ImportanceNormal Importance = iota
	ImportanceLow
	ImportanceHigh
)

// String returns the domain name of the importance (low, normal, high).
func (i Importance) String() string {
	switch i {
	case ImportanceLow:
		return "low"
	case ImportanceHigh:
		return "high"
	default:
		return "normal"
	}
}

// WireName returns the name used by the exchange formats and the remote API.
func (i Importance) WireName() string {
	switch i {
	case ImportanceLow:
		return "low"
	case ImportanceHigh:
		return "important"
	default:
		return "basic"
	}
}

// ParseImportance accepts both the domain and the wire vocabulary.
// Unknown or empty input resolves to ImportanceNormal.
func ParseImportance(s string) Importance {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return ImportanceLow
	case "high", "important":
		return ImportanceHigh
	default:
		return ImportanceNormal
	}
}

// Item is a single task record.
type Item struct {
	ID            string
	Text          string
	Importance    Importance
	Deadline      *time.Time // nil when the task has no deadline
	Done          bool
	CreatedAt     time.Time
	ChangedAt     *time.Time
	Color         string
	LastUpdatedBy string
}

// nowFunc is replaced in tests.
var nowFunc = time.Now

// Now returns the current time truncated to the second resolution the
// exchange formats carry.
func Now() time.Time {
	return nowFunc().Truncate(time.Second)
}

// New creates a record with a client generated id.
func New(text string, importance Importance, deadline *time.Time) Item {
	it := Item{
		ID:         uuid.NewString(),
		Text:       text,
		Importance: importance,
		CreatedAt:  Now(),
		Color:      DefaultColor,
	}
	if deadline != nil {
		d := deadline.Truncate(time.Second)
		it.Deadline = &d
	}
	return it
}

// Normalize fills the fields a record must always carry: an id, a creation
// time and a color.
func (it *Item) Normalize() {
	if it.ID == "" {
		it.ID = uuid.NewString()
	}
	if it.CreatedAt.IsZero() {
		it.CreatedAt = Now()
	}
	if it.Color == "" {
		it.Color = DefaultColor
	}
}

// Touch records a modification by actor.
func (it *Item) Touch(actor string) {
	now := Now()
	if now.Before(it.CreatedAt) {
		now = it.CreatedAt
	}
	it.ChangedAt = &now
	it.LastUpdatedBy = actor
}

// Validate checks the record invariants.
func (it Item) Validate() error {
	if it.ID == "" {
		return fmt.Errorf("id is required")
	}
	if it.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if it.ChangedAt != nil && it.ChangedAt.Before(it.CreatedAt) {
		return fmt.Errorf("changed_at %s is before created_at %s",
			it.ChangedAt.Format(time.RFC3339), it.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

// Clone returns a deep copy of the record.
func (it Item) Clone() Item {
	out := it
	if it.Deadline != nil {
		d := *it.Deadline
		out.Deadline = &d
	}
	if it.ChangedAt != nil {
		c := *it.ChangedAt
		out.ChangedAt = &c
	}
	return out
}

// CountDone returns how many of items are completed.
func CountDone(items []Item) int {
	n := 0
	for _, it := range items {
		if it.Done {
			n++
		}
	}
	return n
}

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.Unix()
	return &v
}

func timePtr(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0)
	return &t
}
