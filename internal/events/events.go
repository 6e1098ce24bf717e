// Package events publishes domain events after successful core writes.
// Delivery is best effort: events describe what happened and are never read
// back to compute tallies or aggregates.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	ShowCreated    = "show.created"
	ShowDeleted    = "show.deleted"
	RatingSet      = "rating.set"
	RatingCleared  = "rating.cleared"
	ReviewSet      = "review.set"
	ReviewCleared  = "review.cleared"
	VoteCast       = "vote.cast"
	VoteRetracted  = "vote.retracted"
	UserDeleted    = "user.deleted"
	SchemaMigrated = "schema.migrated"
)

// Event is a single domain event.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	ShowID     int64     `json:"show_id,omitempty"`
	UserID     int64     `json:"user_id,omitempty"`
	AuthorID   int64     `json:"author_id,omitempty"`
	Value      int       `json:"value,omitempty"`
}

// New returns an event of the given type with a fresh ID and timestamp.
func New(eventType string) Event {
	return Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		OccurredAt: time.Now().UTC(),
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }

var _ Publisher = Nop{}
