// Package model defines the core domain types for the event RSVP system.
package model

import "time"

// Event represents a published event with a fixed attendance capacity.
// AttendeeCount mirrors the size of the attendee set and is maintained
// by the repository inside the same isolation boundary as the set itself.
type Event struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Location      string    `json:"location"`
	ImageURL      string    `json:"image_url,omitempty"`
	Capacity      int       `json:"capacity"`
	AttendeeCount int       `json:"attendee_count"`
	CreatorID     string    `json:"creator_id"`
	StartsAt      time.Time `json:"starts_at"`
	CreatedAt     time.Time `json:"created_at"`
}

// Remaining returns the number of available spots.
func (e *Event) Remaining() int {
	return e.Capacity - e.AttendeeCount
}

// IsFull returns true when no spots remain.
func (e *Event) IsFull() bool {
	return e.AttendeeCount >= e.Capacity
}

// HasStarted reports whether the event has already begun at the given time.
func (e *Event) HasStarted(now time.Time) bool {
	return !e.StartsAt.After(now)
}

// Registration represents one user's confirmed spot at an event.
type Registration struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	UserID    string    `json:"user_id"`
	CreatedAt time.Time `json:"created_at"`
}

// AttendeeView is the fresh membership snapshot returned to the caller
// after a successful register or cancel. Attendees preserves insertion
// order for display; the capacity invariant treats it as a set.
type AttendeeView struct {
	EventID       string   `json:"event_id"`
	Capacity      int      `json:"capacity"`
	AttendeeCount int      `json:"attendee_count"`
	Attendees     []string `json:"attendees"`
}

// CreateEventRequest is the payload for publishing a new event.
type CreateEventRequest struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	ImageURL    string    `json:"image_url,omitempty"`
	Capacity    int       `json:"capacity"`
	StartsAt    time.Time `json:"starts_at"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
