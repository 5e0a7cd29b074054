package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rsvpd/internal/model"
)

const eventColumns = `id, title, description, location, image_url,
	capacity, attendee_count, creator_id, starts_at, created_at`

// PostgresStore persists events and registrations in PostgreSQL.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create inserts a new event with an empty attendee set.
func (s *PostgresStore) Create(ctx context.Context, req model.CreateEventRequest, creatorID string) (*model.Event, error) {
	ev := &model.Event{
		ID:          uuid.New().String(),
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
		ImageURL:    req.ImageURL,
		Capacity:    req.Capacity,
		CreatorID:   creatorID,
		StartsAt:    req.StartsAt,
		CreatedAt:   time.Now().UTC(),
	}

	_, err := s.db.Exec(ctx,
		`INSERT INTO events (id, title, description, location, image_url,
		   capacity, attendee_count, creator_id, starts_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9)`,
		ev.ID, ev.Title, ev.Description, ev.Location, ev.ImageURL,
		ev.Capacity, ev.CreatorID, ev.StartsAt, ev.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return ev, nil
}

// Get returns a single event or ErrNotFound.
func (s *PostgresStore) Get(ctx context.Context, eventID string) (*model.Event, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1`, eventID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get event: %w", err)
	}
	return ev, nil
}

// Attendees returns the current membership view without locking the
// event row. Display read; may lag a concurrent committed mutation.
func (s *PostgresStore) Attendees(ctx context.Context, eventID string) (*model.AttendeeView, error) {
	ev, err := s.Get(ctx, eventID)
	if err != nil {
		return nil, err
	}

	attendees, err := attendeeList(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}

	return &model.AttendeeView{
		EventID:       eventID,
		Capacity:      ev.Capacity,
		AttendeeCount: len(attendees),
		Attendees:     attendees,
	}, nil
}

// ListUpcoming returns events that start after now, soonest first.
func (s *PostgresStore) ListUpcoming(ctx context.Context, now time.Time) ([]model.Event, error) {
	return s.list(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE starts_at > $1
		 ORDER BY starts_at ASC`, now)
}

// ListByCreator returns the events published by a user, soonest first.
func (s *PostgresStore) ListByCreator(ctx context.Context, userID string) ([]model.Event, error) {
	return s.list(ctx,
		`SELECT `+eventColumns+` FROM events
		 WHERE creator_id = $1
		 ORDER BY starts_at ASC`, userID)
}

// ListByAttendee returns the events a user is registered for, soonest first.
func (s *PostgresStore) ListByAttendee(ctx context.Context, userID string) ([]model.Event, error) {
	return s.list(ctx,
		`SELECT `+eventColumns+` FROM events e
		 JOIN registrations r ON r.event_id = e.id
		 WHERE r.user_id = $1
		 ORDER BY e.starts_at ASC`, userID)
}

func (s *PostgresStore) list(ctx context.Context, query string, arg any) ([]model.Event, error) {
	rows, err := s.db.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []model.Event
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, *ev)
	}
	return events, rows.Err()
}

// MutateAttendees performs a concurrency-safe attendee mutation inside
// a serialised transaction.
//
// A naive read-then-write is broken: two transactions can read the same
// attendee_count before either writes back, and both conclude there is
// a free spot, overbooking the event. SELECT ... FOR UPDATE acquires a
// row-level exclusive lock on the event row the moment the SELECT
// executes, so any concurrent transaction attempting the same lock
// blocks until this one commits or rolls back. That serialises the
// read-decide-write sequence per event; transactions on other events
// are unaffected.
func (s *PostgresStore) MutateAttendees(ctx context.Context, eventID string, fn MutateFn) (*model.AttendeeView, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	// ── Step 1: Lock the event row. ───────────────────────────────────────
	row := tx.QueryRow(ctx,
		`SELECT `+eventColumns+` FROM events WHERE id = $1 FOR UPDATE`, eventID)
	ev, err := scanEvent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
			return nil, err
		}
		err = fmt.Errorf("lock event row: %w", err)
		return nil, err
	}

	// ── Step 2: Read the attendee set under the lock. ─────────────────────
	attendees, err := attendeeList(ctx, tx, eventID)
	if err != nil {
		return nil, err
	}

	// ── Step 3: Let the caller decide, on locked state only. ──────────────
	mut, err := fn(ev, attendees)
	if err != nil {
		return nil, err
	}

	// ── Step 4: Apply the delta and keep attendee_count in sync. ──────────
	switch {
	case mut.Add != "":
		_, err = tx.Exec(ctx,
			`INSERT INTO registrations (id, event_id, user_id, created_at)
			 VALUES ($1, $2, $3, $4)`,
			uuid.New().String(), eventID, mut.Add, time.Now().UTC(),
		)
		if err != nil {
			err = fmt.Errorf("insert registration: %w", err)
			return nil, err
		}
		if _, err = tx.Exec(ctx,
			`UPDATE events SET attendee_count = attendee_count + 1 WHERE id = $1`,
			eventID,
		); err != nil {
			err = fmt.Errorf("increment attendee_count: %w", err)
			return nil, err
		}
		attendees = append(attendees, mut.Add)

	case mut.Remove != "":
		tag, execErr := tx.Exec(ctx,
			`DELETE FROM registrations WHERE event_id = $1 AND user_id = $2`,
			eventID, mut.Remove,
		)
		if execErr != nil {
			err = fmt.Errorf("delete registration: %w", execErr)
			return nil, err
		}
		if tag.RowsAffected() > 0 {
			if _, err = tx.Exec(ctx,
				`UPDATE events SET attendee_count = attendee_count - 1 WHERE id = $1`,
				eventID,
			); err != nil {
				err = fmt.Errorf("decrement attendee_count: %w", err)
				return nil, err
			}
			attendees = removeUser(attendees, mut.Remove)
		}
	}

	// ── Step 5: Commit; only now do other transactions see the change. ────
	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return &model.AttendeeView{
		EventID:       eventID,
		Capacity:      ev.Capacity,
		AttendeeCount: len(attendees),
		Attendees:     attendees,
	}, nil
}

// Delete removes an event and its registrations. It locks the event row
// first so it cannot interleave with an in-flight attendee mutation.
func (s *PostgresStore) Delete(ctx context.Context, eventID, requestorID string) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var creatorID string
	err = tx.QueryRow(ctx,
		`SELECT creator_id FROM events WHERE id = $1 FOR UPDATE`, eventID,
	).Scan(&creatorID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = ErrNotFound
			return err
		}
		err = fmt.Errorf("lock event row: %w", err)
		return err
	}
	if creatorID != requestorID {
		err = ErrForbidden
		return err
	}

	// Registrations go via ON DELETE CASCADE.
	if _, err = tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, eventID); err != nil {
		err = fmt.Errorf("delete event: %w", err)
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func attendeeList(ctx context.Context, q querier, eventID string) ([]string, error) {
	rows, err := q.Query(ctx,
		`SELECT user_id FROM registrations
		 WHERE event_id = $1
		 ORDER BY created_at ASC`, eventID)
	if err != nil {
		return nil, fmt.Errorf("list attendees: %w", err)
	}
	defer rows.Close()

	var attendees []string
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan attendee: %w", err)
		}
		attendees = append(attendees, userID)
	}
	return attendees, rows.Err()
}

func scanEvent(row pgx.Row) (*model.Event, error) {
	var ev model.Event
	err := row.Scan(&ev.ID, &ev.Title, &ev.Description, &ev.Location, &ev.ImageURL,
		&ev.Capacity, &ev.AttendeeCount, &ev.CreatorID, &ev.StartsAt, &ev.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func removeUser(attendees []string, userID string) []string {
	out := attendees[:0]
	for _, a := range attendees {
		if a != userID {
			out = append(out, a)
		}
	}
	return out
}
