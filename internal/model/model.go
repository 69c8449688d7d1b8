package model

import "time"

// RoomType is the level a room occupies in the church hierarchy.
type RoomType string

const (
	RoomMinistry     RoomType = "ministry"
	RoomSector       RoomType = "sector"
	RoomCongregation RoomType = "congregation"
)

// Valid reports whether t is one of the known room types.
func (t RoomType) Valid() bool {
	switch t {
	case RoomMinistry, RoomSector, RoomCongregation:
		return true
	}
	return false
}

// Room is a calendar container. Parent links form a tree.
type Room struct {
	ID       string   `db:"id" json:"id"`
	Name     string   `db:"name" json:"name"`
	Slug     string   `db:"slug" json:"slug"`
	Color    string   `db:"color" json:"color"`
	Type     RoomType `db:"type" json:"type"`
	ParentID *string  `db:"parent_id" json:"parent_id,omitempty"`

	// Group buckets sibling rooms for targeted broadcasts.
	Group string `db:"group_label" json:"group,omitempty"`

	// BlockParentCascade opts the room out of every ancestor cascade event.
	BlockParentCascade bool `db:"block_parent_cascade" json:"block_parent_cascade"`

	InviteCode string    `db:"invite_code" json:"invite_code,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Role of a user inside a room.
type Role string

const (
	RoleOwner Role = "OWNER"
	RoleAdmin Role = "ADMIN"
)

// Member links a user to a room they administer.
type Member struct {
	UserID string `db:"user_id" json:"user_id"`
	RoomID string `db:"room_id" json:"room_id"`
	Role   Role   `db:"role" json:"role"`
}

// Follower is a user subscribed to a room's public calendar.
type Follower struct {
	UserID    string    `db:"user_id" json:"user_id"`
	RoomID    string    `db:"room_id" json:"room_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Category provides the display color of events lacking an override.
type Category struct {
	ID     string `db:"id" json:"id"`
	RoomID string `db:"room_id" json:"room_id"`
	Name   string `db:"name" json:"name"`
	Color  string `db:"color" json:"color"`
}

// Event is a stored calendar entry before recurrence expansion.
type Event struct {
	ID          string  `db:"id" json:"id"`
	RoomID      string  `db:"room_id" json:"room_id"`
	Title       string  `db:"title" json:"title"`
	Description string  `db:"description" json:"description"`
	CategoryID  *string `db:"category_id" json:"category_id,omitempty"`

	// Start / End are stored in UTC. All-day events span whole days.
	Start  time.Time `db:"start_at" json:"start"`
	End    time.Time `db:"end_at" json:"end"`
	AllDay bool      `db:"all_day" json:"all_day"`

	// RRule is the textual recurrence rule; empty for one-off events.
	RRule       string `db:"rrule" json:"rrule,omitempty"`
	IsRecurring bool   `db:"is_recurring" json:"is_recurring"`

	Cascade         bool `db:"cascades" json:"cascade"`
	VisibleToParent bool `db:"visible_to_parent" json:"visible_to_parent"`

	// OriginalEventID points at the source of a broadcast copy.
	OriginalEventID *string `db:"original_event_id" json:"original_event_id,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Duration is the length shared by every occurrence of the event.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// EventException suppresses one generated occurrence of a series.
type EventException struct {
	EventID       string    `db:"event_id" json:"event_id"`
	ExceptionDate time.Time `db:"exception_date" json:"exception_date"`
}

// Via records which visibility rules admitted an event for a room.
type Via uint8

const (
	ViaOwn Via = 1 << iota
	ViaCascade
	ViaChild
	ViaTarget
)

func (v Via) Has(f Via) bool { return v&f != 0 }

// EventRecord is the denormalized read shape used by the resolver and the
// expander: the event, its owning room and category, its exceptions and
// its explicit target rooms.
type EventRecord struct {
	Event

	RoomName  string   `db:"room_name" json:"room_name"`
	RoomColor string   `db:"room_color" json:"room_color"`
	RoomType  RoomType `db:"room_type" json:"room_type"`

	CategoryName  *string `db:"category_name" json:"category_name,omitempty"`
	CategoryColor *string `db:"category_color" json:"category_color,omitempty"`

	Exceptions    []time.Time `db:"-" json:"exceptions,omitempty"`
	TargetRoomIDs []string    `db:"-" json:"target_room_ids,omitempty"`

	Via Via `db:"-" json:"-"`
}

// Occurrence represents a single concrete instance of an event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	EventID string

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the local start time.
	InstanceKey string

	// OriginalDate is the generated start before any caller adjustment. It is
	// the value clients send back as originalDate for single/future edits.
	OriginalDate time.Time

	Title       string
	Description string
	AllDay      bool

	// Start / End are in the configured display timezone.
	Start time.Time
	End   time.Time
}
