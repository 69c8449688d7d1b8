package calendar

import (
	"context"
	"sort"
	"time"

	"churchcal/internal/recurrence"
	"churchcal/internal/store"
)

type CategoryCount struct {
	CategoryID *string `json:"category_id"`
	Name       string  `json:"name"`
	Color      string  `json:"color"`
	Count      int     `json:"count"`
}

type ChildActivity struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Group  string `json:"group,omitempty"`
	Count  int    `json:"count"`
}

// Stats is the room dashboard for the month containing At.
type Stats struct {
	At                   time.Time       `json:"at"`
	TotalEventsMonth     int             `json:"total_events_month"`
	CategoryDistribution []CategoryCount `json:"category_distribution"`
	ChildrenActivity     []ChildActivity `json:"children_activity"`
}

// Stats counts this month's occurrences of the room's own events, grouped by
// category, and of each direct child's events.
func (s *Service) Stats(ctx context.Context, actor, roomID string, at time.Time) (*Stats, error) {
	if _, err := requireRoom(ctx, s.store, roomID); err != nil {
		return nil, err
	}
	if _, err := requireMember(ctx, s.store, actor, roomID); err != nil {
		return nil, err
	}

	local := at.In(s.loc)
	monthStart := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, s.loc)
	w := recurrence.Window{Start: monthStart, End: monthStart.AddDate(0, 1, 0).Add(-time.Nanosecond)}.Clamp(s.Range())

	own, err := s.store.FindEvents(ctx, store.EventCriteria{RoomID: roomID})
	if err != nil {
		return nil, err
	}

	st := &Stats{At: at, CategoryDistribution: []CategoryCount{}, ChildrenActivity: []ChildActivity{}}
	byCategory := map[string]*CategoryCount{}
	for _, rec := range own {
		n := len(s.expand(rec, w).Occurrences)
		if n == 0 {
			continue
		}
		st.TotalEventsMonth += n

		key := ""
		if rec.CategoryID != nil {
			key = *rec.CategoryID
		}
		cc, ok := byCategory[key]
		if !ok {
			cc = &CategoryCount{CategoryID: rec.CategoryID, Name: "Uncategorized", Color: DefaultEventColor}
			if rec.CategoryName != nil {
				cc.Name = *rec.CategoryName
			}
			if rec.CategoryColor != nil {
				cc.Color = *rec.CategoryColor
			}
			byCategory[key] = cc
		}
		cc.Count += n
	}
	for _, cc := range byCategory {
		st.CategoryDistribution = append(st.CategoryDistribution, *cc)
	}
	sort.Slice(st.CategoryDistribution, func(i, j int) bool {
		a, b := st.CategoryDistribution[i], st.CategoryDistribution[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Name < b.Name
	})

	children, err := s.store.ListChildren(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(children) > 0 {
		ids := make([]string, len(children))
		for i, c := range children {
			ids[i] = c.ID
		}
		recs, err := s.store.FindEvents(ctx, store.EventCriteria{Children: ids, ChildrenAll: true})
		if err != nil {
			return nil, err
		}
		perRoom := map[string]int{}
		for _, rec := range recs {
			perRoom[rec.RoomID] += len(s.expand(rec, w).Occurrences)
		}
		for _, child := range children {
			st.ChildrenActivity = append(st.ChildrenActivity, ChildActivity{
				RoomID: child.ID,
				Name:   child.Name,
				Group:  child.Group,
				Count:  perRoom[child.ID],
			})
		}
	}
	sort.SliceStable(st.ChildrenActivity, func(i, j int) bool {
		return st.ChildrenActivity[i].Count > st.ChildrenActivity[j].Count
	})

	return st, nil
}
