package calendar

import (
	"context"
	"fmt"

	appLog "churchcal/internal/log"
	"churchcal/internal/model"
	"churchcal/internal/store"
)

// FollowState is a user's subscription to a public calendar.
type FollowState struct {
	RoomID    string `json:"room_id"`
	Following bool   `json:"following"`
	Followers int    `json:"followers"`
}

// FollowStatus reports whether actor follows the room with slug.
func (s *Service) FollowStatus(ctx context.Context, actor, slug string) (*FollowState, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: anonymous", ErrForbidden)
	}
	room, err := s.PublicRoom(ctx, slug)
	if err != nil {
		return nil, err
	}
	following, err := s.store.IsFollowing(ctx, actor, room.ID)
	if err != nil {
		return nil, err
	}
	n, err := s.store.CountFollowers(ctx, room.ID)
	if err != nil {
		return nil, err
	}
	return &FollowState{RoomID: room.ID, Following: following, Followers: n}, nil
}

// ToggleFollow follows the room with slug, or unfollows it when actor
// already does. Any signed-in user may follow; membership is not needed.
func (s *Service) ToggleFollow(ctx context.Context, actor, slug string) (*FollowState, error) {
	if actor == "" {
		return nil, fmt.Errorf("%w: anonymous", ErrForbidden)
	}
	room, err := s.PublicRoom(ctx, slug)
	if err != nil {
		return nil, err
	}

	st := &FollowState{RoomID: room.ID}
	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		following, err := tx.IsFollowing(ctx, actor, room.ID)
		if err != nil {
			return err
		}
		if following {
			err = tx.RemoveFollower(ctx, actor, room.ID)
		} else {
			err = tx.AddFollower(ctx, model.Follower{UserID: actor, RoomID: room.ID, CreatedAt: s.now()})
		}
		if err != nil {
			return err
		}
		st.Following = !following
		st.Followers, err = tx.CountFollowers(ctx, room.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	appLog.Info("follow toggled", "room_id", room.ID, "user_id", actor, "following", st.Following)
	return st, nil
}
