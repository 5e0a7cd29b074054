package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/sync/errgroup"

	"rsvpd/internal/metrics"
	"rsvpd/internal/model"
	"rsvpd/internal/repository"
)

type EventServiceSuite struct {
	suite.Suite
	store *repository.MemoryStore
	svc   *EventService
	ctx   context.Context
	now   time.Time
}

func TestEventServiceSuite(t *testing.T) {
	suite.Run(t, new(EventServiceSuite))
}

func (s *EventServiceSuite) SetupTest() {
	s.store = repository.NewMemoryStore()
	s.svc = NewEventService(s.store,
		WithMetrics(metrics.New(prometheus.NewRegistry())))
	s.ctx = context.Background()
	s.now = time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
}

// seedEvent inserts an event starting one hour from s.now.
func (s *EventServiceSuite) seedEvent(capacity int, attendees ...string) string {
	id := uuid.New().String()
	s.store.Seed(model.Event{
		ID:        id,
		Title:     "meetup",
		Capacity:  capacity,
		CreatorID: "organizer",
		StartsAt:  s.now.Add(time.Hour),
		CreatedAt: s.now.Add(-time.Hour),
	}, attendees)
	return id
}

func (s *EventServiceSuite) TestRegister() {
	s.Run("first registration succeeds", func() {
		id := s.seedEvent(3)
		view, err := s.svc.Register(s.ctx, id, "alice", s.now)
		s.Require().NoError(err)
		s.Equal(1, view.AttendeeCount)
		s.Equal([]string{"alice"}, view.Attendees)
	})

	s.Run("second registration of same user is rejected, count rises by one only", func() {
		id := s.seedEvent(3)
		_, err := s.svc.Register(s.ctx, id, "alice", s.now)
		s.Require().NoError(err)

		_, err = s.svc.Register(s.ctx, id, "alice", s.now)
		s.ErrorIs(err, repository.ErrAlreadyRegistered)

		view, err := s.svc.Attendees(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(1, view.AttendeeCount)
	})

	s.Run("full event rejects further registrations", func() {
		id := s.seedEvent(1, "alice")
		_, err := s.svc.Register(s.ctx, id, "bob", s.now)
		s.ErrorIs(err, repository.ErrEventFull)
	})

	s.Run("started event rejects registration regardless of capacity", func() {
		id := uuid.New().String()
		s.store.Seed(model.Event{
			ID:        id,
			Title:     "past meetup",
			Capacity:  100,
			CreatorID: "organizer",
			StartsAt:  s.now.Add(-time.Minute),
		}, nil)

		_, err := s.svc.Register(s.ctx, id, "alice", s.now)
		s.ErrorIs(err, repository.ErrEventEnded)
	})

	s.Run("started event beats already-registered in precedence", func() {
		id := uuid.New().String()
		s.store.Seed(model.Event{
			ID:       id,
			Title:    "past meetup",
			Capacity: 5,
			StartsAt: s.now.Add(-time.Minute),
		}, []string{"alice"})

		_, err := s.svc.Register(s.ctx, id, "alice", s.now)
		s.ErrorIs(err, repository.ErrEventEnded)
	})

	s.Run("already-registered beats full in precedence", func() {
		id := s.seedEvent(1, "alice")
		_, err := s.svc.Register(s.ctx, id, "alice", s.now)
		s.ErrorIs(err, repository.ErrAlreadyRegistered)
	})

	s.Run("unknown event", func() {
		_, err := s.svc.Register(s.ctx, uuid.New().String(), "alice", s.now)
		s.ErrorIs(err, repository.ErrNotFound)
	})

	s.Run("blank ids rejected", func() {
		_, err := s.svc.Register(s.ctx, "", "alice", s.now)
		s.Error(err)
		_, err = s.svc.Register(s.ctx, "event", "", s.now)
		s.Error(err)
	})
}

func (s *EventServiceSuite) TestCancel() {
	s.Run("registered user can cancel", func() {
		id := s.seedEvent(3, "alice", "bob")
		view, err := s.svc.Cancel(s.ctx, id, "alice")
		s.Require().NoError(err)
		s.Equal(1, view.AttendeeCount)
		s.Equal([]string{"bob"}, view.Attendees)
	})

	s.Run("never-registered user is rejected, count unchanged", func() {
		id := s.seedEvent(3, "alice")
		_, err := s.svc.Cancel(s.ctx, id, "mallory")
		s.ErrorIs(err, repository.ErrNotRegistered)

		view, err := s.svc.Attendees(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(1, view.AttendeeCount)
	})

	s.Run("second cancel of same user is rejected", func() {
		id := s.seedEvent(3, "alice")
		_, err := s.svc.Cancel(s.ctx, id, "alice")
		s.Require().NoError(err)
		_, err = s.svc.Cancel(s.ctx, id, "alice")
		s.ErrorIs(err, repository.ErrNotRegistered)
	})

	s.Run("cancel frees a spot for someone else", func() {
		id := s.seedEvent(1, "alice")
		_, err := s.svc.Register(s.ctx, id, "bob", s.now)
		s.ErrorIs(err, repository.ErrEventFull)

		_, err = s.svc.Cancel(s.ctx, id, "alice")
		s.Require().NoError(err)

		view, err := s.svc.Register(s.ctx, id, "bob", s.now)
		s.Require().NoError(err)
		s.Equal([]string{"bob"}, view.Attendees)
	})
}

// Capacity C, N > C concurrent registrations of distinct users: exactly
// C succeed, N-C observe a full event, and the final set holds C users
// with no duplicates.
func (s *EventServiceSuite) TestConcurrentRegistrationNeverOverbooks() {
	const capacity = 10
	const callers = 40

	id := s.seedEvent(capacity)

	var registered, full atomic.Int64
	var g errgroup.Group
	for i := 0; i < callers; i++ {
		user := fmt.Sprintf("user-%02d", i)
		g.Go(func() error {
			_, err := s.svc.Register(s.ctx, id, user, s.now)
			switch {
			case err == nil:
				registered.Add(1)
			case errors.Is(err, repository.ErrEventFull):
				full.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(int64(capacity), registered.Load())
	s.Equal(int64(callers-capacity), full.Load())

	view, err := s.svc.Attendees(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(capacity, view.AttendeeCount)
	s.Len(view.Attendees, capacity)
	seen := make(map[string]bool, capacity)
	for _, a := range view.Attendees {
		s.False(seen[a], "duplicate attendee %q", a)
		seen[a] = true
	}
}

// Three users race for two spots: exactly two get in.
func (s *EventServiceSuite) TestThreeUsersTwoSpots() {
	id := s.seedEvent(2)

	var registered, full atomic.Int64
	var g errgroup.Group
	for _, user := range []string{"alice", "bob", "carol"} {
		user := user
		g.Go(func() error {
			_, err := s.svc.Register(s.ctx, id, user, s.now)
			switch {
			case err == nil:
				registered.Add(1)
			case errors.Is(err, repository.ErrEventFull):
				full.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	s.Require().NoError(g.Wait())

	s.Equal(int64(2), registered.Load())
	s.Equal(int64(1), full.Load())

	view, err := s.svc.Attendees(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(2, view.AttendeeCount)
}

// Concurrent cancel and re-register of an already-registered user: every
// linearization leaves the set consistent, never negative or duplicated.
func (s *EventServiceSuite) TestCancelRegisterInterleave() {
	for i := 0; i < 20; i++ {
		id := s.seedEvent(5, "alice")

		var g errgroup.Group
		g.Go(func() error {
			_, err := s.svc.Cancel(s.ctx, id, "alice")
			if err != nil && !errors.Is(err, repository.ErrNotRegistered) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			_, err := s.svc.Register(s.ctx, id, "alice", s.now)
			if err != nil && !errors.Is(err, repository.ErrAlreadyRegistered) {
				return err
			}
			return nil
		})
		s.Require().NoError(g.Wait())

		view, err := s.svc.Attendees(s.ctx, id)
		s.Require().NoError(err)
		s.GreaterOrEqual(view.AttendeeCount, 0)
		s.LessOrEqual(view.AttendeeCount, 1)
		s.Len(view.Attendees, view.AttendeeCount)
	}
}

func (s *EventServiceSuite) TestCreateEvent() {
	req := model.CreateEventRequest{
		Title:    "launch party",
		Capacity: 50,
		StartsAt: s.now.Add(24 * time.Hour),
	}

	s.Run("valid request", func() {
		ev, err := s.svc.CreateEvent(s.ctx, req, "organizer")
		s.Require().NoError(err)
		s.NotEmpty(ev.ID)
		s.Equal(0, ev.AttendeeCount)
	})

	s.Run("capacity below one rejected", func() {
		bad := req
		bad.Capacity = 0
		_, err := s.svc.CreateEvent(s.ctx, bad, "organizer")
		s.Error(err)
	})

	s.Run("blank title rejected", func() {
		bad := req
		bad.Title = "   "
		_, err := s.svc.CreateEvent(s.ctx, bad, "organizer")
		s.Error(err)
	})

	s.Run("missing start time rejected", func() {
		bad := req
		bad.StartsAt = time.Time{}
		_, err := s.svc.CreateEvent(s.ctx, bad, "organizer")
		s.Error(err)
	})
}

// flakyStore fails MutateAttendees with a transient error a fixed
// number of times before delegating to the real store.
type flakyStore struct {
	repository.EventStore
	failures atomic.Int64
}

func (f *flakyStore) MutateAttendees(ctx context.Context, eventID string, fn repository.MutateFn) (*model.AttendeeView, error) {
	if f.failures.Add(-1) >= 0 {
		return nil, &pgconn.PgError{Code: "40001", Message: "serialization failure"}
	}
	return f.EventStore.MutateAttendees(ctx, eventID, fn)
}

func (s *EventServiceSuite) TestTransientFailuresAreRetried() {
	id := s.seedEvent(3)

	flaky := &flakyStore{EventStore: s.store}
	flaky.failures.Store(2)
	svc := NewEventService(flaky)

	view, err := svc.Register(s.ctx, id, "alice", s.now)
	s.Require().NoError(err)
	s.Equal(1, view.AttendeeCount)
}

func (s *EventServiceSuite) TestRetryExhaustionSurfacesUnavailable() {
	id := s.seedEvent(3)

	flaky := &flakyStore{EventStore: s.store}
	flaky.failures.Store(100)
	svc := NewEventService(flaky)

	_, err := svc.Register(s.ctx, id, "alice", s.now)
	s.ErrorIs(err, ErrUnavailable)

	// The attempt never committed.
	view, viewErr := s.svc.Attendees(s.ctx, id)
	s.Require().NoError(viewErr)
	s.Equal(0, view.AttendeeCount)
}

// fakeCache records listing reads and writes.
type fakeCache struct {
	events []model.Event
	hits   int
	sets   int
}

func (f *fakeCache) GetEvents(ctx context.Context, key string) ([]model.Event, bool) {
	if f.events != nil {
		f.hits++
		return f.events, true
	}
	return nil, false
}

func (f *fakeCache) SetEvents(ctx context.Context, key string, events []model.Event, ttl time.Duration) {
	f.sets++
	f.events = events
}

func (s *EventServiceSuite) TestListUpcomingUsesCache() {
	s.seedEvent(3)

	fc := &fakeCache{}
	svc := NewEventService(s.store,
		WithCache(fc, time.Second),
		WithClock(func() time.Time { return s.now }))

	first, err := svc.ListUpcoming(s.ctx)
	s.Require().NoError(err)
	s.Len(first, 1)
	s.Equal(1, fc.sets)

	second, err := svc.ListUpcoming(s.ctx)
	s.Require().NoError(err)
	s.Len(second, 1)
	s.Equal(1, fc.hits)
}
