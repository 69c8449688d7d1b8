package calendar

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	appLog "churchcal/internal/log"
	"churchcal/internal/metrics"
	"churchcal/internal/model"
	"churchcal/internal/recurrence"
	"churchcal/internal/store"
	"churchcal/internal/visibility"
)

// Mode selects how much of a recurring series an edit or delete touches.
type Mode string

const (
	ModeAll    Mode = "all"
	ModeSingle Mode = "single"
	ModeFuture Mode = "future"
)

// ParseMode accepts "", all, single and future (case-insensitive). The empty
// string means all.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return ModeAll, nil
	case ModeAll, ModeSingle, ModeFuture:
		return m, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
}

// EventInput carries the editable fields of an event. The recurrence is
// taken from Recurrence when set, otherwise from RRule.
type EventInput struct {
	Title       string                `json:"title" validate:"required,max=200"`
	Description string                `json:"description" validate:"max=5000"`
	CategoryID  *string               `json:"category_id,omitempty"`
	Start       time.Time             `json:"start" validate:"required"`
	End         time.Time             `json:"end" validate:"required"`
	AllDay      bool                  `json:"all_day"`
	RRule       string                `json:"rrule,omitempty"`
	Recurrence  *recurrence.Options   `json:"recurrence,omitempty"`
	Cascade     bool                  `json:"cascade"`
	Visible     bool                  `json:"visible_to_parent"`
	Targets     visibility.TargetSpec `json:"targets"`
}

// EditRequest addresses an existing event. OriginalDate is the start of the
// clicked occurrence and is required for single and future.
type EditRequest struct {
	EventID      string
	Mode         Mode
	OriginalDate time.Time
}

// CreateEvent adds an event to roomID.
func (s *Service) CreateEvent(ctx context.Context, actor, roomID string, in EventInput) (*model.Event, error) {
	if _, err := requireRoom(ctx, s.store, roomID); err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, s.store, actor, roomID); err != nil {
		return nil, err
	}

	ev := &model.Event{ID: s.newID(), RoomID: roomID}
	if err := s.applyInput(ctx, s.store, ev, in, true); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ev.CreatedAt, ev.UpdatedAt = now, now

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.CreateEvent(ctx, ev); err != nil {
			return err
		}
		return s.linkTargets(ctx, tx, ev, in.Targets)
	})
	if err != nil {
		return nil, err
	}

	appLog.Info("event created", "event_id", ev.ID, "room_id", roomID, "recurring", ev.IsRecurring)
	return ev, nil
}

// UpdateEvent edits an event. Non-recurring events are always edited as a
// whole. It returns the event carrying the edited fields: the base event for
// ModeAll, the replacement for ModeSingle and the new series for ModeFuture.
func (s *Service) UpdateEvent(ctx context.Context, actor string, req EditRequest, in EventInput) (*model.Event, error) {
	base, err := s.loadEditable(ctx, actor, req.EventID)
	if err != nil {
		return nil, err
	}

	mode, err := s.effectiveMode(base, req)
	if err != nil {
		return nil, err
	}

	var out *model.Event
	switch mode {
	case ModeAll:
		out, err = s.updateAll(ctx, base, in)
	case ModeSingle:
		out, err = s.updateSingle(ctx, base, req.OriginalDate, in)
	case ModeFuture:
		out, err = s.updateFuture(ctx, base, req.OriginalDate, in)
	}
	if err != nil {
		return nil, err
	}

	metrics.SeriesMutations.WithLabelValues("update", string(mode)).Inc()
	appLog.Info("event updated", "event_id", base.ID, "mode", string(mode), "result_id", out.ID)
	return out, nil
}

// DeleteEvent removes an event, one occurrence of it, or its occurrences from
// OriginalDate on.
func (s *Service) DeleteEvent(ctx context.Context, actor string, req EditRequest) error {
	base, err := s.loadEditable(ctx, actor, req.EventID)
	if err != nil {
		return err
	}

	mode, err := s.effectiveMode(base, req)
	if err != nil {
		return err
	}

	err = s.store.WithTx(ctx, func(tx store.Tx) error {
		switch mode {
		case ModeSingle:
			return tx.AddException(ctx, model.EventException{
				EventID:       base.ID,
				ExceptionDate: s.expander.StartOfDay(req.OriginalDate),
			})
		case ModeFuture:
			ok, err := s.truncate(ctx, tx, base, req.OriginalDate)
			if err != nil || ok {
				return err
			}
			// Nothing would remain before the split: the whole series goes.
			mode = ModeAll
		}
		return tx.DeleteEvent(ctx, base.ID)
	})
	if err != nil {
		return err
	}

	metrics.SeriesMutations.WithLabelValues("delete", string(mode)).Inc()
	appLog.Info("event deleted", "event_id", base.ID, "mode", string(mode))
	return nil
}

// EventRoomID returns the room owning eventID.
func (s *Service) EventRoomID(ctx context.Context, eventID string) (string, error) {
	rec, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	return rec.RoomID, nil
}

func (s *Service) loadEditable(ctx context.Context, actor, eventID string) (*model.EventRecord, error) {
	rec, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: event %s", ErrNotFound, eventID)
	}
	if _, err := requireMember(ctx, s.store, actor, rec.RoomID); err != nil {
		return nil, err
	}
	return rec, nil
}

// effectiveMode validates req against base. One-off events and splits on
// the first occurrence are handled as ModeAll.
func (s *Service) effectiveMode(base *model.EventRecord, req EditRequest) (Mode, error) {
	mode := req.Mode
	if mode == "" {
		mode = ModeAll
	}
	switch mode {
	case ModeAll:
		return ModeAll, nil
	case ModeSingle, ModeFuture:
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	if base.RRule == "" {
		return ModeAll, nil
	}
	if req.OriginalDate.IsZero() {
		return "", fmt.Errorf("%w: originalDate is required for %s", ErrValidation, mode)
	}
	if _, err := recurrence.Parse(base.RRule); err != nil {
		return "", fmt.Errorf("%w: stored rule: %v", ErrInvalidRule, err)
	}
	if !s.expander.OccursOn(*base, req.OriginalDate) {
		return "", fmt.Errorf("%w: %s", ErrNotAnOccurrence, s.expander.DateKey(req.OriginalDate))
	}
	if s.expander.Suppressed(*base, req.OriginalDate) {
		return "", fmt.Errorf("%w: %s was already removed from the series", ErrNotAnOccurrence, s.expander.DateKey(req.OriginalDate))
	}
	if mode == ModeFuture && s.expander.DateKey(req.OriginalDate) == s.expander.DateKey(base.Start) {
		return ModeAll, nil
	}
	return mode, nil
}

func (s *Service) updateAll(ctx context.Context, base *model.EventRecord, in EventInput) (*model.Event, error) {
	ev := base.Event
	if err := s.applyInput(ctx, s.store, &ev, in, true); err != nil {
		return nil, err
	}
	ev.UpdatedAt = s.now().UTC()

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.UpdateEvent(ctx, &ev); err != nil {
			return err
		}
		if err := tx.ClearExceptions(ctx, ev.ID); err != nil {
			return err
		}
		return s.linkTargets(ctx, tx, &ev, in.Targets)
	})
	if err != nil {
		return nil, err
	}
	return &ev, nil
}

func (s *Service) updateSingle(ctx context.Context, base *model.EventRecord, originalDate time.Time, in EventInput) (*model.Event, error) {
	ev := &model.Event{ID: s.newID(), RoomID: base.RoomID}
	if err := s.applyInput(ctx, s.store, ev, in, false); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ev.CreatedAt, ev.UpdatedAt = now, now

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		err := tx.AddException(ctx, model.EventException{
			EventID:       base.ID,
			ExceptionDate: s.expander.StartOfDay(originalDate),
		})
		if err != nil {
			return err
		}
		if err := tx.CreateEvent(ctx, ev); err != nil {
			return err
		}
		return s.linkTargets(ctx, tx, ev, in.Targets)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (s *Service) updateFuture(ctx context.Context, base *model.EventRecord, originalDate time.Time, in EventInput) (*model.Event, error) {
	ev := &model.Event{ID: s.newID(), RoomID: base.RoomID}
	if err := s.applyInput(ctx, s.store, ev, in, true); err != nil {
		return nil, err
	}
	if s.expander.DateKey(ev.Start) < s.expander.DateKey(originalDate) {
		return nil, fmt.Errorf("%w: %s < %s", ErrInvalidSplit, s.expander.DateKey(ev.Start), s.expander.DateKey(originalDate))
	}
	now := s.now().UTC()
	ev.CreatedAt, ev.UpdatedAt = now, now

	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		ok, err := s.truncate(ctx, tx, base, originalDate)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: nothing remains before %s", ErrInvalidSplit, s.expander.DateKey(originalDate))
		}
		if err := tx.CreateEvent(ctx, ev); err != nil {
			return err
		}
		return s.linkTargets(ctx, tx, ev, in.Targets)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

// truncate stops base's series on the day before split and drops the
// exceptions the truncated series can no longer produce. ok is false when
// nothing would remain, in which case nothing is written.
func (s *Service) truncate(ctx context.Context, tx store.Tx, base *model.EventRecord, split time.Time) (bool, error) {
	rule, err := recurrence.Parse(base.RRule)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	head, ok := recurrence.TruncateBefore(rule, base.Start, split, s.loc)
	if !ok {
		return false, nil
	}

	ev := base.Event
	ev.RRule = head.String()
	ev.UpdatedAt = s.now().UTC()
	if err := tx.UpdateEvent(ctx, &ev); err != nil {
		return false, err
	}
	if err := tx.DeleteExceptionsFrom(ctx, base.ID, s.expander.StartOfDay(split)); err != nil {
		return false, err
	}
	return true, nil
}

// applyInput validates in and copies it onto ev. allowRecurrence is false
// for detached single-occurrence replacements.
func (s *Service) applyInput(ctx context.Context, r store.Reader, ev *model.Event, in EventInput, allowRecurrence bool) error {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if in.Start.IsZero() || in.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrValidation)
	}
	if in.End.Before(in.Start) {
		return fmt.Errorf("%w: end is before start", ErrValidation)
	}

	start, end := in.Start, in.End
	if in.AllDay {
		start, end = s.allDayRange(start, end)
	}

	rrule := ""
	if allowRecurrence {
		var err error
		rrule, err = s.ruleFor(start, in)
		if err != nil {
			return err
		}
	}

	if in.CategoryID != nil && *in.CategoryID != "" {
		cat, err := r.GetCategory(ctx, *in.CategoryID)
		if err != nil {
			return err
		}
		if cat == nil || cat.RoomID != ev.RoomID {
			return fmt.Errorf("%w: unknown category %s", ErrValidation, *in.CategoryID)
		}
		id := cat.ID
		ev.CategoryID = &id
	} else {
		ev.CategoryID = nil
	}

	ev.Title = title
	ev.Description = strings.TrimSpace(in.Description)
	ev.Start = start.UTC()
	ev.End = end.UTC()
	ev.AllDay = in.AllDay
	ev.RRule = rrule
	ev.IsRecurring = rrule != ""
	ev.Cascade = in.Cascade
	ev.VisibleToParent = in.Visible
	return nil
}

// ruleFor returns the canonical rule of in, or "" for a one-off event.
func (s *Service) ruleFor(start time.Time, in EventInput) (string, error) {
	if in.Recurrence != nil {
		rule, err := recurrence.BuildRuleString(start.In(s.loc), *in.Recurrence)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidRule, err)
		}
		return rule, nil
	}
	if strings.TrimSpace(in.RRule) == "" {
		return "", nil
	}
	rule, err := recurrence.Parse(in.RRule)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return rule.String(), nil
}

// allDayRange normalizes an all-day range to whole calendar days in the
// calendar timezone: start at local midnight, end at the midnight after the
// last day. An end already at local midnight is taken as exclusive.
func (s *Service) allDayRange(start, end time.Time) (time.Time, time.Time) {
	from := s.expander.StartOfDay(start)
	to := s.expander.StartOfDay(end)
	if !end.In(s.loc).Equal(to) {
		to = to.AddDate(0, 0, 1)
	}
	if !to.After(from) {
		to = from.AddDate(0, 0, 1)
	}
	return from, to
}

// linkTargets replaces the explicit targets of ev with the children of its
// room selected by spec.
func (s *Service) linkTargets(ctx context.Context, tx store.Tx, ev *model.Event, spec visibility.TargetSpec) error {
	children, err := tx.ListChildren(ctx, ev.RoomID)
	if err != nil {
		return err
	}
	ids, err := visibility.SelectTargets(children, spec)
	if errors.Is(err, visibility.ErrInvalidTargetMode) {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err != nil {
		return err
	}
	return tx.SetTargets(ctx, ev.ID, ids)
}
