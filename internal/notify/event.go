// Package notify delivers match state changes to interested clients.
//
// The match core publishes an Event after every join, start, move, finish and
// settlement. Delivery is best effort: a Publisher error is logged by the
// caller and never fails the operation that produced the event.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened to a match.
type EventType string

// Event types.
const (
	EventJoined   EventType = "match.joined"
	EventStarted  EventType = "match.started"
	EventMoved    EventType = "match.moved"
	EventFinished EventType = "match.finished"
	EventSettled  EventType = "match.settled"
)

// Payout summarizes a settlement for relaying to clients.
type Payout struct {
	Draw           bool  `json:"draw"`
	WinnerID       int64 `json:"winner_id,omitempty"`
	WinnerAmount   int64 `json:"winner_amount,omitempty"`
	PlatformFee    int64 `json:"platform_fee,omitempty"`
	Refund         int64 `json:"refund,omitempty"`
	AlreadySettled bool  `json:"already_settled,omitempty"`
}

// Event is a single match state change. ID is unique per event and lets a
// sink drop duplicates.
type Event struct {
	ID           uuid.UUID `json:"id"`
	Type         EventType `json:"type"`
	MatchID      int64     `json:"match_id"`
	Code         string    `json:"code,omitempty"`
	ActorID      int64     `json:"actor_id,omitempty"`
	Participants []int64   `json:"participants,omitempty"`
	Status       string    `json:"status"`
	Board        string    `json:"board,omitempty"`
	Turn         string    `json:"turn,omitempty"`
	WinnerID     *int64    `json:"winner_id,omitempty"`
	Outcome      string    `json:"outcome,omitempty"`
	Payout       *Payout   `json:"payout,omitempty"`
	At           time.Time `json:"at"`
}

// NewEvent creates an event with a fresh id and timestamp.
func NewEvent(typ EventType, matchID int64) Event {
	return Event{
		ID:      uuid.New(),
		Type:    typ,
		MatchID: matchID,
		At:      time.Now().UTC(),
	}
}

// Publisher receives match events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, ev Event) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// Nop discards every event.
var Nop Publisher = PublisherFunc(func(context.Context, Event) error { return nil })
