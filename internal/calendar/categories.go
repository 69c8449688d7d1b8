package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"churchcal/internal/model"
	"churchcal/internal/store"
)

type CategoryInput struct {
	Name  string `json:"name" validate:"required,max=80"`
	Color string `json:"color" validate:"required,hexcolor"`
}

func (s *Service) Categories(ctx context.Context, actor, roomID string) ([]model.Category, error) {
	if _, err := requireMember(ctx, s.store, actor, roomID); err != nil {
		return nil, err
	}
	return s.store.ListCategories(ctx, roomID)
}

func (s *Service) CreateCategory(ctx context.Context, actor, roomID string, in CategoryInput) (*model.Category, error) {
	if _, err := requireRoom(ctx, s.store, roomID); err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, s.store, actor, roomID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !colorPattern.MatchString(in.Color) {
		return nil, fmt.Errorf("%w: color %q", ErrValidation, in.Color)
	}
	cat := &model.Category{ID: s.newID(), RoomID: roomID, Name: name, Color: in.Color}
	if err := s.store.CreateCategory(ctx, cat); err != nil {
		return nil, err
	}
	return cat, nil
}

// DeleteCategory removes a category of roomID. Its events keep existing
// without a category.
func (s *Service) DeleteCategory(ctx context.Context, actor, roomID, categoryID string) error {
	if _, err := requireMember(ctx, s.store, actor, roomID); err != nil {
		return err
	}
	cat, err := s.store.GetCategory(ctx, categoryID)
	if err != nil {
		return err
	}
	if cat == nil || cat.RoomID != roomID {
		return fmt.Errorf("%w: category %s", ErrNotFound, categoryID)
	}
	err = s.store.WithTx(ctx, func(tx store.Tx) error { return tx.DeleteCategory(ctx, categoryID) })
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: category %s", ErrNotFound, categoryID)
	}
	return err
}
