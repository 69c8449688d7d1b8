package calendar

import (
	"context"
	"fmt"
	"sort"
	"time"

	"churchcal/internal/metrics"
	"churchcal/internal/model"
	"churchcal/internal/recurrence"
	"churchcal/internal/visibility"
)

const (
	DefaultEventColor    = "#3b82f6"
	DefaultExternalColor = "#999999"
)

// ViewOptions selects an administrative calendar view.
type ViewOptions struct {
	// Viewer is the requesting user; they must administer the room.
	Viewer  string
	Monitor bool
	From    time.Time
	To      time.Time
}

// OccurrenceView is one rendered calendar entry.
type OccurrenceView struct {
	EventID      string    `json:"event_id"`
	InstanceKey  string    `json:"instance_key"`
	OriginalDate time.Time `json:"original_date"`
	Title        string    `json:"title"`
	Description  string    `json:"description,omitempty"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	AllDay       bool      `json:"all_day"`
	Color        string    `json:"color"`

	CategoryID   *string `json:"category_id,omitempty"`
	CategoryName *string `json:"category_name,omitempty"`

	SourceRoomID   string `json:"source_room_id"`
	SourceRoomName string `json:"source_room_name"`
	IsExternal     bool   `json:"is_external"`
	CanEdit        bool   `json:"can_edit"`
	Recurring      bool   `json:"recurring"`
	RRule          string `json:"rrule,omitempty"`

	// Conflict flags a timed own occurrence overlapping another one.
	Conflict bool `json:"conflict,omitempty"`
}

// View is a room calendar over a window.
type View struct {
	Room        model.Room        `json:"room"`
	Window      recurrence.Window `json:"-"`
	From        time.Time         `json:"from"`
	To          time.Time         `json:"to"`
	Occurrences []OccurrenceView  `json:"occurrences"`

	// Degraded lists events whose rule could not be expanded.
	Degraded       []string `json:"degraded,omitempty"`
	CycleSuspected bool     `json:"cycle_suspected,omitempty"`

	// Records are the resolved stored events the view was built from.
	Records []model.EventRecord `json:"-"`
}

// RoomView is the administrative view of a room: owned events are editable
// and overlapping own occurrences are flagged.
func (s *Service) RoomView(ctx context.Context, roomID string, opts ViewOptions) (*View, error) {
	if _, err := requireRoom(ctx, s.store, roomID); err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, s.store, opts.Viewer, roomID); err != nil {
		return nil, err
	}
	w, err := s.Window(opts.From, opts.To)
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, roomID, visibility.Options{Monitor: opts.Monitor})
	if err != nil {
		return nil, err
	}
	v := s.render(res, w, true, nil)
	markConflicts(v.Occurrences)
	return v, nil
}

// PublicView is the anonymous view of a room found by slug. Nothing is
// editable.
func (s *Service) PublicView(ctx context.Context, slug string, from, to time.Time) (*View, error) {
	room, err := s.store.GetRoomBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if room == nil {
		return nil, fmt.Errorf("%w: slug %s", ErrNotFound, slug)
	}
	w, err := s.Window(from, to)
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, room.ID, visibility.Options{})
	if err != nil {
		return nil, err
	}
	return s.render(res, w, false, nil), nil
}

// MonitorChild is a parent administrator's view of everything a direct
// child owns, regardless of the child's visibility flags.
func (s *Service) MonitorChild(ctx context.Context, actor, parentID, childID string, from, to time.Time) (*View, error) {
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
	w, err := s.Window(from, to)
	if err != nil {
		return nil, err
	}
	res, err := s.resolver.Resolve(ctx, parentID, visibility.Options{Monitor: true})
	if err != nil {
		return nil, err
	}
	v := s.render(res, w, false, func(rec model.EventRecord) bool { return rec.RoomID == childID })
	v.Room = *child
	return v, nil
}

// render expands the resolved records into occurrence views. keep filters
// records when non-nil.
func (s *Service) render(res visibility.Resolution, w recurrence.Window, editable bool, keep func(model.EventRecord) bool) *View {
	v := &View{
		Window:         w,
		From:           w.Start,
		To:             w.End,
		Occurrences:    []OccurrenceView{},
		CycleSuspected: res.CycleSuspected,
	}
	if res.Room == nil {
		return v
	}
	v.Room = *res.Room

	for _, rec := range res.Events {
		if keep != nil && !keep(rec) {
			continue
		}
		v.Records = append(v.Records, rec)

		out := s.expand(rec, w)
		metrics.ExpansionsTotal.WithLabelValues(out.Status.String()).Inc()
		metrics.OccurrencesGenerated.Add(float64(len(out.Occurrences)))
		if out.Status == recurrence.StatusDegraded {
			v.Degraded = append(v.Degraded, rec.ID)
		}

		external := rec.RoomID != res.Room.ID
		color := occurrenceColor(rec, external)
		for _, occ := range out.Occurrences {
			v.Occurrences = append(v.Occurrences, OccurrenceView{
				EventID:        rec.ID,
				InstanceKey:    occ.InstanceKey,
				OriginalDate:   occ.OriginalDate,
				Title:          occ.Title,
				Description:    occ.Description,
				Start:          occ.Start,
				End:            occ.End,
				AllDay:         occ.AllDay,
				Color:          color,
				CategoryID:     rec.CategoryID,
				CategoryName:   rec.CategoryName,
				SourceRoomID:   rec.RoomID,
				SourceRoomName: rec.RoomName,
				IsExternal:     external,
				CanEdit:        editable && !external,
				Recurring:      rec.RRule != "",
				RRule:          rec.RRule,
			})
		}
	}

	sort.SliceStable(v.Occurrences, func(i, j int) bool {
		a, b := v.Occurrences[i], v.Occurrences[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		return a.EventID < b.EventID
	})
	return v
}

// expand expands rec over w and drops occurrences that do not meet w. The
// base occurrence of one-off and degraded records ignores the window.
func (s *Service) expand(rec model.EventRecord, w recurrence.Window) recurrence.Result {
	res := s.expander.Expand(rec, w)
	kept := res.Occurrences[:0]
	for _, occ := range res.Occurrences {
		if w.Overlaps(occ.Start, occ.End) {
			kept = append(kept, occ)
		}
	}
	res.Occurrences = kept
	return res
}

// occurrenceColor: external events take their owning room's color; own
// events prefer their category color, then the room color.
func occurrenceColor(rec model.EventRecord, external bool) string {
	if external {
		if rec.RoomColor != "" {
			return rec.RoomColor
		}
		return DefaultExternalColor
	}
	if rec.CategoryColor != nil && *rec.CategoryColor != "" {
		return *rec.CategoryColor
	}
	if rec.RoomColor != "" {
		return rec.RoomColor
	}
	return DefaultEventColor
}

// markConflicts flags timed own occurrences that overlap another timed own
// occurrence. occs must be sorted by start.
func markConflicts(occs []OccurrenceView) {
	var own []int
	for i, o := range occs {
		if !o.IsExternal && !o.AllDay {
			own = append(own, i)
		}
	}
	for a := 0; a < len(own); a++ {
		oa := &occs[own[a]]
		for b := a + 1; b < len(own); b++ {
			ob := &occs[own[b]]
			if !ob.Start.Before(oa.End) {
				break
			}
			oa.Conflict = true
			ob.Conflict = true
		}
	}
}
