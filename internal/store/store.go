// Package store defines the persistence contract of the calendar.
package store

import (
	"context"
	"errors"
	"time"

	"churchcal/internal/model"
)

var (
	// ErrNotFound is returned by writes that target a missing row.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a unique constraint is violated.
	ErrConflict = errors.New("store: conflict")
)

// EventCriteria selects stored events by the visibility rules. A row is
// returned when it matches any populated field.
type EventCriteria struct {
	// RoomID selects events owned by the room.
	RoomID string
	// CascadeFrom selects cascading events owned by these rooms.
	CascadeFrom []string
	// Children selects visible-to-parent events owned by these rooms, or
	// every event of theirs when ChildrenAll is set.
	Children    []string
	ChildrenAll bool
	// TargetRoomID selects events explicitly targeted at the room.
	TargetRoomID string
}

// Empty reports whether no field can match anything.
func (c EventCriteria) Empty() bool {
	return c.RoomID == "" && len(c.CascadeFrom) == 0 && len(c.Children) == 0 && c.TargetRoomID == ""
}

// Reader is the read side shared by the store and its transactions.
// Single-row getters return (nil, nil) when the row does not exist.
type Reader interface {
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	GetRoomBySlug(ctx context.Context, slug string) (*model.Room, error)
	GetRoomByInviteCode(ctx context.Context, code string) (*model.Room, error)
	ListChildren(ctx context.Context, parentID string) ([]model.Room, error)

	GetMember(ctx context.Context, userID, roomID string) (*model.Member, error)

	IsFollowing(ctx context.Context, userID, roomID string) (bool, error)
	CountFollowers(ctx context.Context, roomID string) (int, error)

	GetCategory(ctx context.Context, id string) (*model.Category, error)
	ListCategories(ctx context.Context, roomID string) ([]model.Category, error)

	// GetEvent loads one event with its exceptions and targets.
	GetEvent(ctx context.Context, id string) (*model.EventRecord, error)
	// FindEvents loads every event matching c with exceptions and targets,
	// each event once, ordered by start.
	FindEvents(ctx context.Context, c EventCriteria) ([]model.EventRecord, error)
}

// Writer is the write side shared by the store and its transactions.
type Writer interface {
	CreateRoom(ctx context.Context, r *model.Room) error
	UpdateRoom(ctx context.Context, r *model.Room) error
	DeleteRoom(ctx context.Context, id string) error

	// AddMember returns ErrConflict when the membership already exists.
	AddMember(ctx context.Context, m model.Member) error

	// AddFollower returns ErrConflict when the user already follows the room.
	AddFollower(ctx context.Context, f model.Follower) error
	// RemoveFollower returns ErrNotFound when the user does not follow it.
	RemoveFollower(ctx context.Context, userID, roomID string) error

	CreateCategory(ctx context.Context, c *model.Category) error
	// DeleteCategory removes the category and clears it from its events.
	DeleteCategory(ctx context.Context, id string) error

	CreateEvent(ctx context.Context, e *model.Event) error
	UpdateEvent(ctx context.Context, e *model.Event) error
	// DeleteEvent removes the event with its exceptions and targets.
	DeleteEvent(ctx context.Context, id string) error

	// AddException is idempotent per (event, date).
	AddException(ctx context.Context, ex model.EventException) error
	ClearExceptions(ctx context.Context, eventID string) error
	// DeleteExceptionsFrom removes exceptions dated at or after from.
	DeleteExceptionsFrom(ctx context.Context, eventID string, from time.Time) error
	// PurgeExceptionsBefore removes every exception dated before t.
	PurgeExceptionsBefore(ctx context.Context, t time.Time) (int64, error)

	// SetTargets replaces the explicit target rooms of an event.
	SetTargets(ctx context.Context, eventID string, roomIDs []string) error
}

// Tx is a unit of work; every call sees and makes changes atomically.
type Tx interface {
	Reader
	Writer
}

// Store is the full data-access object, constructed once at startup and
// injected into the services.
type Store interface {
	Reader
	Writer

	// WithTx runs fn in a transaction, committing when it returns nil.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	Ping(ctx context.Context) error
	Close() error
}
