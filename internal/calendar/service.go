// Package calendar is the application layer of churchcal: room and event
// management on top of the store, the visibility resolver and the
// recurrence engine.
package calendar

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"churchcal/internal/model"
	"churchcal/internal/recurrence"
	"churchcal/internal/store"
	"churchcal/internal/visibility"
)

// Config tunes the service. Zero values fall back to the defaults.
type Config struct {
	// Location is the calendar timezone. Defaults to UTC.
	Location *time.Location

	// PastYears / FutureYears bound the default expansion window.
	PastYears   int
	FutureYears int

	MaxOccurrencesPerEvent int
	MaxAncestorDepth       int

	// Now is the clock; defaults to time.Now.
	Now func() time.Time
}

type Service struct {
	store    store.Store
	resolver *visibility.Resolver
	expander recurrence.Expander

	loc         *time.Location
	pastYears   int
	futureYears int
	now         func() time.Time
	newID       func() string
}

func NewService(st store.Store, cfg Config) *Service {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	s := &Service{
		store:    st,
		resolver: visibility.NewResolver(st, cfg.MaxAncestorDepth),
		expander: recurrence.Expander{
			Location:               loc,
			MaxOccurrencesPerEvent: cfg.MaxOccurrencesPerEvent,
		},
		loc:         loc,
		pastYears:   cfg.PastYears,
		futureYears: cfg.FutureYears,
		now:         cfg.Now,
		newID:       uuid.NewString,
	}
	if s.pastYears <= 0 {
		s.pastYears = 1
	}
	if s.futureYears <= 0 {
		s.futureYears = 2
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Location is the calendar timezone.
func (s *Service) Location() *time.Location { return s.loc }

// Range is the expansion range around now. Nothing outside it is ever
// expanded, so exceptions older than its start may be purged.
func (s *Service) Range() recurrence.Window {
	return recurrence.WindowAround(s.now(), s.pastYears, s.futureYears)
}

// Window returns [from, to] clamped to Range. A zero bound takes the
// range's edge.
func (s *Service) Window(from, to time.Time) (recurrence.Window, error) {
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return recurrence.Window{}, fmt.Errorf("%w: window ends before it starts", ErrValidation)
	}
	limit := s.Range()
	w := limit
	if !from.IsZero() {
		w.Start = from
	}
	if !to.IsZero() {
		w.End = to
	}
	return w.Clamp(limit), nil
}

// requireRoom loads a room or fails with ErrNotFound.
func requireRoom(ctx context.Context, r store.Reader, roomID string) (*model.Room, error) {
	room, err := r.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("%w: room %s", ErrNotFound, roomID)
	}
	return room, nil
}

// requireMember fails with ErrForbidden unless userID administers roomID
// with one of roles (any role when none are given).
func requireMember(ctx context.Context, r store.Reader, userID, roomID string, roles ...model.Role) (*model.Member, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: anonymous", ErrForbidden)
	}
	m, err := r.GetMember(ctx, userID, roomID)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("%w: user %s is not a member of room %s", ErrForbidden, userID, roomID)
	}
	if len(roles) == 0 {
		return m, nil
	}
	for _, role := range roles {
		if m.Role == role {
			return m, nil
		}
	}
	return nil, fmt.Errorf("%w: role %s cannot do this in room %s", ErrForbidden, m.Role, roomID)
}

// IsMember reports whether userID administers roomID.
func (s *Service) IsMember(ctx context.Context, userID, roomID string) (bool, error) {
	if userID == "" {
		return false, nil
	}
	m, err := s.store.GetMember(ctx, userID, roomID)
	if err != nil {
		return false, err
	}
	return m != nil, nil
}
