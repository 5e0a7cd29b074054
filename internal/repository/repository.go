// Package repository implements storage for events and their attendee
// sets. Two implementations exist: PostgresStore (pgx directly, no ORM)
// and MemoryStore (per-event mutexes). Both provide the same isolation
// guarantee for attendee mutations.
package repository

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"rsvpd/internal/model"
)

// ErrNotFound is returned when a requested event does not exist.
var ErrNotFound = errors.New("event not found")

// ErrEventFull is returned when an event has no remaining capacity.
var ErrEventFull = errors.New("event is full")

// ErrAlreadyRegistered is returned when the same user registers twice.
var ErrAlreadyRegistered = errors.New("user already registered for this event")

// ErrNotRegistered is returned when cancelling a registration that does not exist.
var ErrNotRegistered = errors.New("user is not registered for this event")

// ErrEventEnded is returned when registering for an event that already started.
var ErrEventEnded = errors.New("event has already started")

// ErrForbidden is returned when a user attempts an operation reserved
// for the event's creator.
var ErrForbidden = errors.New("operation allowed only for the event creator")

// Mutation is the attendee-set delta computed by a MutateFn. At most
// one of Add/Remove is set; the zero value means no change.
type Mutation struct {
	Add    string
	Remove string
}

// MutateFn decides an attendee mutation. It receives the event and its
// attendee list exactly as they are visible inside the isolation
// boundary; values read before the boundary was acquired must never be
// used for this decision. Returning an error aborts with no change.
type MutateFn func(ev *model.Event, attendees []string) (Mutation, error)

// EventStore is the durable registry of events.
//
// MutateAttendees is the isolation boundary: for a given event id, the
// read of the event, the MutateFn decision, and the write of the
// resulting mutation form one atomic unit with respect to every other
// MutateAttendees or Delete call for the same id. Calls for different
// events never serialize against each other.
//
// Reads outside MutateAttendees (Get and the List methods) may observe
// slightly stale state under concurrency and are suitable for display
// only, never for a commit decision.
type EventStore interface {
	Get(ctx context.Context, eventID string) (*model.Event, error)
	Attendees(ctx context.Context, eventID string) (*model.AttendeeView, error)
	ListUpcoming(ctx context.Context, now time.Time) ([]model.Event, error)
	ListByCreator(ctx context.Context, userID string) ([]model.Event, error)
	ListByAttendee(ctx context.Context, userID string) ([]model.Event, error)
	Create(ctx context.Context, req model.CreateEventRequest, creatorID string) (*model.Event, error)
	MutateAttendees(ctx context.Context, eventID string, fn MutateFn) (*model.AttendeeView, error)
	Delete(ctx context.Context, eventID, requestorID string) error
}

// IsTransient reports whether err is a storage failure worth retrying:
// serialization or deadlock aborts, lock timeouts, lost connections.
// Business errors and context cancellation are never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"57P03": // cannot_connect_now
			return true
		}
		// Class 08: connection exceptions.
		return len(pgErr.Code) >= 2 && pgErr.Code[:2] == "08"
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
