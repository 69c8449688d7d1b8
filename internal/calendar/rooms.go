package calendar

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/gosimple/slug"
	gonanoid "github.com/matoous/go-nanoid/v2"

	appLog "churchcal/internal/log"
	"churchcal/internal/model"
	"churchcal/internal/store"
	"churchcal/internal/visibility"
)

const (
	slugSuffixAlphabet = "0123456789"
	slugSuffixLength   = 4
	inviteAlphabet     = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	inviteLength       = 8

	// createAttempts bounds retries on slug or invite code collisions.
	createAttempts = 5
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// RoomInput creates a room.
type RoomInput struct {
	Name               string         `json:"name" validate:"required,max=120"`
	Color              string         `json:"color" validate:"omitempty,hexcolor"`
	Type               model.RoomType `json:"type" validate:"required,oneof=ministry sector congregation"`
	ParentID           *string        `json:"parent_id,omitempty"`
	Group              string         `json:"group" validate:"max=60"`
	BlockParentCascade bool           `json:"block_parent_cascade"`
}

// RoomUpdate changes a room. Nil fields are left untouched; a ParentID
// pointing at "" detaches the room.
type RoomUpdate struct {
	Name               *string `json:"name,omitempty" validate:"omitempty,max=120"`
	Color              *string `json:"color,omitempty" validate:"omitempty,hexcolor"`
	ParentID           *string `json:"parent_id,omitempty"`
	Group              *string `json:"group,omitempty" validate:"omitempty,max=60"`
	BlockParentCascade *bool   `json:"block_parent_cascade,omitempty"`
}

// CreateRoom creates a room owned by actor.
func (s *Service) CreateRoom(ctx context.Context, actor string, in RoomInput) (*model.Room, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: anonymous", ErrForbidden)
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: room type %q", ErrValidation, in.Type)
	}
	color := in.Color
	if color == "" {
		color = DefaultEventColor
	}
	if !colorPattern.MatchString(color) {
		return nil, fmt.Errorf("%w: color %q", ErrValidation, color)
	}

	room := &model.Room{
		ID:                 s.newID(),
		Name:               name,
		Color:              color,
		Type:               in.Type,
		Group:              strings.TrimSpace(in.Group),
		BlockParentCascade: in.BlockParentCascade,
		CreatedAt:          s.now().UTC(),
	}
	if in.ParentID != nil && *in.ParentID != "" {
		if _, err := requireRoom(ctx, s.store, *in.ParentID); err != nil {
			return nil, err
		}
		parent := *in.ParentID
		room.ParentID = &parent
	}

	var err error
	for attempt := 0; attempt < createAttempts; attempt++ {
		if room.Slug, err = roomSlug(name); err != nil {
			return nil, err
		}
		if room.InviteCode, err = gonanoid.Generate(inviteAlphabet, inviteLength); err != nil {
			return nil, err
		}
		err = s.store.WithTx(ctx, func(tx store.Tx) error {
			if err := tx.CreateRoom(ctx, room); err != nil {
				return err
			}
			return tx.AddMember(ctx, model.Member{UserID: actor, RoomID: room.ID, Role: model.RoleOwner})
		})
		if !errors.Is(err, store.ErrConflict) {
			break
		}
		appLog.Debug("room slug or invite code collided, retrying", "slug", room.Slug, "attempt", attempt+1)
	}
	if err != nil {
		return nil, err
	}

	appLog.Info("room created", "room_id", room.ID, "slug", room.Slug, "owner", actor)
	return room, nil
}

// roomSlug is the name slug with a random numeric suffix.
func roomSlug(name string) (string, error) {
	base := slug.Make(name)
	if base == "" {
		base = "room"
	}
	suffix, err := gonanoid.Generate(slugSuffixAlphabet, slugSuffixLength)
	if err != nil {
		return "", err
	}
	return base + "-" + suffix, nil
}

// UpdateRoom applies upd; only the owner may change room settings.
func (s *Service) UpdateRoom(ctx context.Context, actor, roomID string, upd RoomUpdate) (*model.Room, error) {
	room, err := requireRoom(ctx, s.store, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, s.store, actor, roomID, model.RoleOwner); err != nil {
		return nil, err
	}

	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrValidation)
		}
		room.Name = name
	}
	if upd.Color != nil {
		if !colorPattern.MatchString(*upd.Color) {
			return nil, fmt.Errorf("%w: color %q", ErrValidation, *upd.Color)
		}
		room.Color = *upd.Color
	}
	if upd.Group != nil {
		room.Group = strings.TrimSpace(*upd.Group)
	}
	if upd.BlockParentCascade != nil {
		room.BlockParentCascade = *upd.BlockParentCascade
	}
	if upd.ParentID != nil {
		if *upd.ParentID == "" {
			room.ParentID = nil
		} else {
			if err := s.checkParent(ctx, room.ID, *upd.ParentID); err != nil {
				return nil, err
			}
			parent := *upd.ParentID
			room.ParentID = &parent
		}
	}

	if err := s.store.UpdateRoom(ctx, room); err != nil {
		return nil, err
	}
	appLog.Info("room updated", "room_id", room.ID, "actor", actor)
	return room, nil
}

// checkParent rejects parentID when it is roomID itself, one of its
// descendants, or sits on an ancestor chain that cannot be verified.
func (s *Service) checkParent(ctx context.Context, roomID, parentID string) error {
	if parentID == roomID {
		return fmt.Errorf("%w: room cannot be its own parent", ErrParentCycle)
	}
	parent, err := requireRoom(ctx, s.store, parentID)
	if err != nil {
		return err
	}
	chain, err := s.resolver.Ancestors(ctx, *parent)
	if errors.Is(err, visibility.ErrCycleSuspected) {
		return fmt.Errorf("%w: %v", ErrParentCycle, err)
	}
	if err != nil {
		return err
	}
	for _, a := range chain {
		if a.ID == roomID {
			return fmt.Errorf("%w: %s descends from %s", ErrParentCycle, parentID, roomID)
		}
	}
	return nil
}

// DeleteRoom removes a room with its events, categories and memberships.
// Children are detached. Owner only.
func (s *Service) DeleteRoom(ctx context.Context, actor, roomID string) error {
	if _, err := requireRoom(ctx, s.store, roomID); err != nil {
		return err
	}
	if _, err := requireMember(ctx, s.store, actor, roomID, model.RoleOwner); err != nil {
		return err
	}
	if err := s.store.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteRoom(ctx, roomID) }); err != nil {
		return err
	}
	appLog.Info("room deleted", "room_id", roomID, "actor", actor)
	return nil
}

// JoinRoom makes actor an ADMIN of the room holding code.
func (s *Service) JoinRoom(ctx context.Context, actor, code string) (*model.Room, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: anonymous", ErrForbidden)
	}
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, fmt.Errorf("%w: invite code is required", ErrValidation)
	}
	room, err := s.store.GetRoomByInviteCode(ctx, code)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("%w: invite code", ErrNotFound)
	}
	err = s.store.AddMember(ctx, model.Member{UserID: actor, RoomID: room.ID, Role: model.RoleAdmin})
	if errors.Is(err, store.ErrConflict) {
		return nil, ErrAlreadyMember
	}
	if err != nil {
		return nil, err
	}
	appLog.Info("member joined room", "room_id", room.ID, "user_id", actor)
	return room, nil
}

// SetChildGroup labels a direct child of parentID for group broadcasts.
func (s *Service) SetChildGroup(ctx context.Context, actor, parentID, childID, group string) (*model.Room, error) {
	if _, err := requireMember(ctx, s.store, actor, parentID); err != nil {
		return nil, err
	}
	child, err := requireRoom(ctx, s.store, childID)
	if err != nil {
		return nil, err
	}
	if child.ParentID == nil || *child.ParentID != parentID {
		return nil, fmt.Errorf("%w: room %s is not a child of %s", ErrNotFound, childID, parentID)
	}
	child.Group = strings.TrimSpace(group)
	if err := s.store.UpdateRoom(ctx, child); err != nil {
		return nil, err
	}
	return child, nil
}

// Room returns a room the actor administers.
func (s *Service) Room(ctx context.Context, actor, roomID string) (*model.Room, error) {
	room, err := requireRoom(ctx, s.store, roomID)
	if err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, s.store, actor, roomID); err != nil {
		return nil, err
	}
	return room, nil
}

// PublicRoom looks a room up by slug.
func (s *Service) PublicRoom(ctx context.Context, slug string) (*model.Room, error) {
	room, err := s.store.GetRoomBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("%w: slug %s", ErrNotFound, slug)
	}
	return room, nil
}
