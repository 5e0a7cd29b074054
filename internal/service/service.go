// Package service implements the registration engine and the business
// validation between the HTTP handlers and the repository layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"rsvpd/internal/cache"
	"rsvpd/internal/metrics"
	"rsvpd/internal/model"
	"rsvpd/internal/repository"
)

// ErrUnavailable is returned when storage keeps failing after the
// bounded retries are exhausted. The caller must treat the underlying
// mutation as unknown: re-query event state before retrying a register,
// which stays safe because a committed register reports
// ErrAlreadyRegistered on the retry.
var ErrUnavailable = errors.New("storage temporarily unavailable")

// maxStorageRetries bounds retries of transient storage failures per
// attempt. Business outcomes are never retried.
const maxStorageRetries = 3

const upcomingCacheKey = "events:upcoming"

// EventService orchestrates event publication and the concurrency-safe
// register/cancel operations.
type EventService struct {
	store    repository.EventStore
	cache    cache.EventCache
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	clock    func() time.Time
}

// Option configures an EventService.
type Option func(*EventService)

// WithCache enables the listing cache with the given TTL.
func WithCache(c cache.EventCache, ttl time.Duration) Option {
	return func(s *EventService) {
		if c != nil {
			s.cache = c
			s.cacheTTL = ttl
		}
	}
}

// WithMetrics enables outcome counters.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *EventService) { s.metrics = m }
}

// WithClock sets the time source for listing queries. Test hook.
func WithClock(clock func() time.Time) Option {
	return func(s *EventService) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewEventService constructs an EventService with its dependencies.
func NewEventService(store repository.EventStore, opts ...Option) *EventService {
	s := &EventService{
		store: store,
		cache: cache.Noop{},
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateEvent validates the request and delegates to the store.
func (s *EventService) CreateEvent(ctx context.Context, req model.CreateEventRequest, creatorID string) (*model.Event, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return nil, fmt.Errorf("event title is required")
	}
	if req.Capacity < 1 {
		return nil, fmt.Errorf("capacity must be a positive integer")
	}
	if req.Capacity > 100_000 {
		return nil, fmt.Errorf("capacity cannot exceed 100,000")
	}
	if req.StartsAt.IsZero() {
		return nil, fmt.Errorf("event start time is required")
	}
	if creatorID == "" {
		return nil, fmt.Errorf("creator id is required")
	}
	return s.store.Create(ctx, req, creatorID)
}

// GetEvent returns a single event by ID.
func (s *EventService) GetEvent(ctx context.Context, eventID string) (*model.Event, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	return s.store.Get(ctx, eventID)
}

// ListUpcoming returns events that have not started yet, soonest first.
// Served from the cache when possible; cached listings may lag behind
// committed registrations by up to the cache TTL.
func (s *EventService) ListUpcoming(ctx context.Context) ([]model.Event, error) {
	if events, ok := s.cache.GetEvents(ctx, upcomingCacheKey); ok {
		return events, nil
	}
	events, err := s.store.ListUpcoming(ctx, s.clock().UTC())
	if err != nil {
		return nil, fmt.Errorf("list upcoming events: %w", err)
	}
	s.cache.SetEvents(ctx, upcomingCacheKey, events, s.cacheTTL)
	return events, nil
}

// ListByCreator returns the events published by a user.
func (s *EventService) ListByCreator(ctx context.Context, userID string) ([]model.Event, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.store.ListByCreator(ctx, userID)
}

// ListByAttendee returns the events a user is registered for.
func (s *EventService) ListByAttendee(ctx context.Context, userID string) ([]model.Event, error) {
	if userID == "" {
		return nil, fmt.Errorf("user id is required")
	}
	return s.store.ListByAttendee(ctx, userID)
}

// DeleteEvent removes an event on behalf of its creator.
func (s *EventService) DeleteEvent(ctx context.Context, eventID, requestorID string) error {
	if eventID == "" || requestorID == "" {
		return fmt.Errorf("event id and requestor id are required")
	}
	return s.store.Delete(ctx, eventID, requestorID)
}

// Register adds userID to the event's attendee set, or reports why not.
//
// The decision runs entirely inside the store's isolation boundary: the
// attendee list and capacity it checks are the values visible under the
// event's lock, never anything read beforehand. Check precedence is
// fixed: ended, then already-registered, then full.
func (s *EventService) Register(ctx context.Context, eventID, userID string, now time.Time) (*model.AttendeeView, error) {
	if eventID == "" || userID == "" {
		return nil, fmt.Errorf("event id and user id are required")
	}

	view, err := s.mutateWithRetry(ctx, eventID, func(ev *model.Event, attendees []string) (repository.Mutation, error) {
		if ev.HasStarted(now) {
			return repository.Mutation{}, repository.ErrEventEnded
		}
		for _, a := range attendees {
			if a == userID {
				return repository.Mutation{}, repository.ErrAlreadyRegistered
			}
		}
		if len(attendees) >= ev.Capacity {
			return repository.Mutation{}, repository.ErrEventFull
		}
		return repository.Mutation{Add: userID}, nil
	})

	s.metrics.ObserveRegistration(registrationOutcome(err))
	return view, err
}

// Cancel removes userID from the event's attendee set. Removal never
// needs a capacity check but still runs inside the isolation boundary
// so it cannot race a concurrent register or cancel on the same event;
// a second cancel of the same user reports ErrNotRegistered.
func (s *EventService) Cancel(ctx context.Context, eventID, userID string) (*model.AttendeeView, error) {
	if eventID == "" || userID == "" {
		return nil, fmt.Errorf("event id and user id are required")
	}

	view, err := s.mutateWithRetry(ctx, eventID, func(ev *model.Event, attendees []string) (repository.Mutation, error) {
		for _, a := range attendees {
			if a == userID {
				return repository.Mutation{Remove: userID}, nil
			}
		}
		return repository.Mutation{}, repository.ErrNotRegistered
	})

	s.metrics.ObserveCancellation(cancellationOutcome(err))
	return view, err
}

// Attendees returns the current membership view of an event. Display
// read; under concurrency it may be stale by the time the caller sees it.
func (s *EventService) Attendees(ctx context.Context, eventID string) (*model.AttendeeView, error) {
	if eventID == "" {
		return nil, fmt.Errorf("event id is required")
	}
	return s.store.Attendees(ctx, eventID)
}

// mutateWithRetry runs one attendee mutation, retrying transient
// storage failures with bounded exponential backoff. Business errors
// abort immediately.
func (s *EventService) mutateWithRetry(ctx context.Context, eventID string, fn repository.MutateFn) (*model.AttendeeView, error) {
	op := func() (*model.AttendeeView, error) {
		view, err := s.store.MutateAttendees(ctx, eventID, fn)
		if err != nil && !repository.IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return view, err
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 50 * time.Millisecond
	bo.MaxInterval = 500 * time.Millisecond

	view, err := backoff.RetryWithData(op,
		backoff.WithContext(backoff.WithMaxRetries(bo, maxStorageRetries), ctx))
	if err != nil {
		if repository.IsTransient(err) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, err
	}
	return view, nil
}

func registrationOutcome(err error) string {
	switch {
	case err == nil:
		return "registered"
	case errors.Is(err, repository.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, repository.ErrEventFull):
		return "full"
	case errors.Is(err, repository.ErrEventEnded):
		return "event_ended"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func cancellationOutcome(err error) string {
	switch {
	case err == nil:
		return "cancelled"
	case errors.Is(err, repository.ErrNotRegistered):
		return "not_registered"
	case errors.Is(err, repository.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
