package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"rsvpd/internal/model"
)

// MemoryStore is an in-process EventStore used by tests and by local
// development without PostgreSQL.
//
// Isolation uses a per-event mutex held for the whole read-decide-write
// sequence, so mutations on one event serialise while other events
// proceed independently. Lock entries are created lazily on first use
// and kept for the process lifetime; deleting an event keeps its lock
// entry so an in-flight mutation deterministically observes ErrNotFound.
type MemoryStore struct {
	mu     sync.RWMutex // guards events and locks maps
	events map[string]*eventRecord
	locks  map[string]*sync.Mutex
}

type eventRecord struct {
	ev        model.Event
	attendees []string
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events: make(map[string]*eventRecord),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Create inserts a new event with an empty attendee set.
func (s *MemoryStore) Create(ctx context.Context, req model.CreateEventRequest, creatorID string) (*model.Event, error) {
	ev := model.Event{
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

	s.mu.Lock()
	s.events[ev.ID] = &eventRecord{ev: ev}
	s.mu.Unlock()

	created := ev
	return &created, nil
}

// Get returns a snapshot of a single event or ErrNotFound.
func (s *MemoryStore) Get(ctx context.Context, eventID string) (*model.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	ev := rec.ev
	return &ev, nil
}

// Attendees returns the current membership view. Display read; may lag
// a concurrent committed mutation.
func (s *MemoryStore) Attendees(ctx context.Context, eventID string) (*model.AttendeeView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.events[eventID]
	if !ok {
		return nil, ErrNotFound
	}
	return &model.AttendeeView{
		EventID:       eventID,
		Capacity:      rec.ev.Capacity,
		AttendeeCount: len(rec.attendees),
		Attendees:     append([]string(nil), rec.attendees...),
	}, nil
}

// ListUpcoming returns events that start after now, soonest first.
func (s *MemoryStore) ListUpcoming(ctx context.Context, now time.Time) ([]model.Event, error) {
	return s.filter(func(rec *eventRecord) bool {
		return rec.ev.StartsAt.After(now)
	}), nil
}

// ListByCreator returns the events published by a user, soonest first.
func (s *MemoryStore) ListByCreator(ctx context.Context, userID string) ([]model.Event, error) {
	return s.filter(func(rec *eventRecord) bool {
		return rec.ev.CreatorID == userID
	}), nil
}

// ListByAttendee returns the events a user is registered for, soonest first.
func (s *MemoryStore) ListByAttendee(ctx context.Context, userID string) ([]model.Event, error) {
	return s.filter(func(rec *eventRecord) bool {
		for _, a := range rec.attendees {
			if a == userID {
				return true
			}
		}
		return false
	}), nil
}

func (s *MemoryStore) filter(keep func(*eventRecord) bool) []model.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []model.Event
	for _, rec := range s.events {
		if keep(rec) {
			events = append(events, rec.ev)
		}
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartsAt.Before(events[j].StartsAt)
	})
	return events
}

// MutateAttendees runs fn under this event's mutex and applies the
// resulting delta atomically with respect to every other mutation or
// deletion of the same event.
func (s *MemoryStore) MutateAttendees(ctx context.Context, eventID string, fn MutateFn) (*model.AttendeeView, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lock := s.lockFor(eventID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	rec, ok := s.events[eventID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	// Copies; fn must not be able to mutate the record directly.
	ev := rec.ev
	attendees := append([]string(nil), rec.attendees...)

	mut, err := fn(&ev, attendees)
	if err != nil {
		return nil, err
	}

	switch {
	case mut.Add != "":
		attendees = append(attendees, mut.Add)
	case mut.Remove != "":
		attendees = removeUser(attendees, mut.Remove)
	}

	s.mu.Lock()
	rec.attendees = attendees
	rec.ev.AttendeeCount = len(attendees)
	s.mu.Unlock()

	return &model.AttendeeView{
		EventID:       eventID,
		Capacity:      ev.Capacity,
		AttendeeCount: len(attendees),
		Attendees:     attendees,
	}, nil
}

// Delete removes an event. It holds the event's mutex so it cannot
// interleave with an in-flight attendee mutation.
func (s *MemoryStore) Delete(ctx context.Context, eventID, requestorID string) error {
	lock := s.lockFor(eventID)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.events[eventID]
	if !ok {
		return ErrNotFound
	}
	if rec.ev.CreatorID != requestorID {
		return ErrForbidden
	}
	delete(s.events, eventID)
	return nil
}

// lockFor returns the mutex for an event id, creating it on first use.
func (s *MemoryStore) lockFor(eventID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[eventID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[eventID] = lock
	}
	return lock
}

// Seed inserts an event with a fixed id and attendee list. Test helper.
func (s *MemoryStore) Seed(ev model.Event, attendees []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev.AttendeeCount = len(attendees)
	s.events[ev.ID] = &eventRecord{ev: ev, attendees: append([]string(nil), attendees...)}
}
