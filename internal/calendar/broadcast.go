package calendar

import (
	"context"
	"fmt"
	"slices"
	"time"

	appLog "churchcal/internal/log"
	"churchcal/internal/metrics"
	"churchcal/internal/model"
	"churchcal/internal/recurrence"
	"churchcal/internal/store"
	"churchcal/internal/visibility"
)

// BroadcastInput re-transmits one occurrence of a visible event from RoomID.
type BroadcastInput struct {
	RoomID        string `json:"-"`
	SourceEventID string `json:"source_event_id" validate:"required"`

	// OccurrenceDate pins the copied occurrence of a recurring source.
	OccurrenceDate *time.Time            `json:"occurrence_date,omitempty"`
	Targets        visibility.TargetSpec `json:"targets"`
}

// Broadcast copies one concrete occurrence of an event that RoomID sees
// through a direct child or an explicit target into a new, non-recurring
// event owned by RoomID and links it to the selected children.
func (s *Service) Broadcast(ctx context.Context, actor string, in BroadcastInput) (*model.Event, error) {
	if _, err := requireMember(ctx, s.store, actor, in.RoomID); err != nil {
		return nil, err
	}

	src, err := s.store.GetEvent(ctx, in.SourceEventID)
	if err != nil {
		return nil, err
	}
	if src == nil {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, in.SourceEventID)
	}

	children, err := s.store.ListChildren(ctx, in.RoomID)
	if err != nil {
		return nil, err
	}
	fromChild := slices.ContainsFunc(children, func(c model.Room) bool { return c.ID == src.RoomID })
	targeted := slices.Contains(src.TargetRoomIDs, in.RoomID)
	if !fromChild && !targeted {
		return nil, fmt.Errorf("%w: event %s is not visible to room %s", ErrForbidden, src.ID, in.RoomID)
	}

	start, end, err := s.pickOccurrence(src, in.OccurrenceDate)
	if err != nil {
		return nil, err
	}

	targets, err := visibility.SelectTargets(children, in.Targets)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	now := s.now().UTC()
	sourceID := src.ID
	ev := &model.Event{
		ID:              s.newID(),
		RoomID:          in.RoomID,
		Title:           src.Title,
		Description:     src.Description,
		CategoryID:      src.CategoryID,
		Start:           start.UTC(),
		End:             end.UTC(),
		AllDay:          src.AllDay,
		OriginalEventID: &sourceID,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateEvent(ctx, ev); err != nil {
			return err
		}
		return tx.SetTargets(ctx, ev.ID, targets)
	})
	if err != nil {
		return nil, err
	}

	metrics.Broadcasts.Inc()
	appLog.Info("event broadcast", "event_id", ev.ID, "source_id", src.ID, "room_id", in.RoomID, "targets", len(targets))
	return ev, nil
}

// pickOccurrence returns the concrete range to copy. Recurring sources need
// the date of a generated, non-suppressed occurrence.
func (s *Service) pickOccurrence(src *model.EventRecord, date *time.Time) (time.Time, time.Time, error) {
	if src.RRule == "" {
		return src.Start, src.End, nil
	}
	if date == nil || date.IsZero() {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: occurrence_date is required for a recurring event", ErrValidation)
	}
	day := s.expander.StartOfDay(*date)
	w := recurrence.Window{Start: day, End: day.AddDate(0, 0, 1).Add(-time.Nanosecond)}
	res := s.expander.Expand(*src, w)
	if res.Status != recurrence.StatusOK || len(res.Occurrences) == 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("%w: %s", ErrNotAnOccurrence, s.expander.DateKey(*date))
	}
	occ := res.Occurrences[0]
	return occ.Start, occ.End, nil
}
