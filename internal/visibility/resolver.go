// Package visibility decides which stored events a room may see.
//
// A room sees the union of:
//
//  1. its own events;
//  2. cascading events of its ancestors, unless the room blocks parent cascade;
//  3. events of its direct children flagged visible to the parent, or every
//     child event in monitor mode;
//  4. events explicitly targeted at it.
package visibility

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"

	appLog "churchcal/internal/log"
	"churchcal/internal/metrics"
	"churchcal/internal/model"
	"churchcal/internal/store"
)

// DefaultMaxAncestorDepth bounds the parent walk.
const DefaultMaxAncestorDepth = 5

// ErrCycleSuspected is returned by Ancestors when the parent chain repeats a
// room or is deeper than the configured bound.
var ErrCycleSuspected = errors.New("visibility: ancestor chain cycle suspected")

// Source is the read access the resolver needs. store.Reader satisfies it.
type Source interface {
	GetRoom(ctx context.Context, id string) (*model.Room, error)
	ListChildren(ctx context.Context, parentID string) ([]model.Room, error)
	FindEvents(ctx context.Context, c store.EventCriteria) ([]model.EventRecord, error)
}

type Resolver struct {
	src      Source
	maxDepth int
}

func NewResolver(src Source, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxAncestorDepth
	}
	return &Resolver{src: src, maxDepth: maxDepth}
}

type Options struct {
	// Monitor includes every event of the direct children.
	Monitor bool
}

// Resolution is the visible set of one room with the hierarchy it was
// computed from.
type Resolution struct {
	Room *model.Room
	// Ancestors lists the parent chain, nearest first.
	Ancestors []model.Room
	Children  []model.Room
	// Events holds each visible event once, ordered by start then ID, with
	// Via set to every rule that admitted it.
	Events []model.EventRecord
	// CycleSuspected reports that the ancestor walk was cut short.
	CycleSuspected bool
}

// Ancestors walks the parent chain of room, nearest first. On a repeated
// room or a chain longer than the depth bound it returns the rooms walked so
// far together with ErrCycleSuspected.
func (r *Resolver) Ancestors(ctx context.Context, room model.Room) ([]model.Room, error) {
	var chain []model.Room
	seen := map[string]bool{room.ID: true}
	next := room.ParentID

	for next != nil && *next != "" {
		if seen[*next] {
			return chain, fmt.Errorf("%w: room %s repeats in the chain of %s", ErrCycleSuspected, *next, room.ID)
		}
		if len(chain) == r.maxDepth {
			return chain, fmt.Errorf("%w: chain of %s deeper than %d", ErrCycleSuspected, room.ID, r.maxDepth)
		}
		parent, err := r.src.GetRoom(ctx, *next)
		if err != nil {
			return chain, fmt.Errorf("visibility: load ancestor %s: %w", *next, err)
		}
		if parent == nil {
			// Dangling parent reference: the chain ends here.
			break
		}
		seen[parent.ID] = true
		chain = append(chain, *parent)
		next = parent.ParentID
	}
	return chain, nil
}

// Resolve returns the events visible to roomID. An unknown room yields an
// empty resolution and no error.
func (r *Resolver) Resolve(ctx context.Context, roomID string, opts Options) (Resolution, error) {
	room, err := r.src.GetRoom(ctx, roomID)
	if err != nil {
		return Resolution{}, fmt.Errorf("visibility: load room: %w", err)
	}
	if room == nil {
		return Resolution{Events: []model.EventRecord{}}, nil
	}

	res := Resolution{Room: room}

	res.Ancestors, err = r.Ancestors(ctx, *room)
	switch {
	case errors.Is(err, ErrCycleSuspected):
		res.CycleSuspected = true
		metrics.CycleSuspected.Inc()
		appLog.Error("visibility: ancestor walk stopped", err, "room_id", room.ID, "walked", len(res.Ancestors))
	case err != nil:
		return Resolution{}, err
	}

	res.Children, err = r.src.ListChildren(ctx, room.ID)
	if err != nil {
		return Resolution{}, fmt.Errorf("visibility: list children: %w", err)
	}

	crit := store.EventCriteria{
		RoomID:       room.ID,
		Children:     roomIDs(res.Children),
		ChildrenAll:  opts.Monitor,
		TargetRoomID: room.ID,
	}
	if !room.BlockParentCascade {
		crit.CascadeFrom = roomIDs(res.Ancestors)
	}

	recs, err := r.src.FindEvents(ctx, crit)
	if err != nil {
		return Resolution{}, fmt.Errorf("visibility: find events: %w", err)
	}

	res.Events = classify(recs, crit)
	return res, nil
}

// classify tags every record with the rules it satisfies, merging any
// duplicate rows and dropping rows no rule admits.
func classify(recs []model.EventRecord, c store.EventCriteria) []model.EventRecord {
	out := make([]model.EventRecord, 0, len(recs))
	index := make(map[string]int, len(recs))

	for _, rec := range recs {
		via := viaOf(rec, c)
		if via == 0 {
			continue
		}
		if i, ok := index[rec.ID]; ok {
			out[i].Via |= via
			continue
		}
		rec.Via = via
		index[rec.ID] = len(out)
		out = append(out, rec)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Start.Equal(out[j].Start) {
			return out[i].Start.Before(out[j].Start)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func viaOf(rec model.EventRecord, c store.EventCriteria) model.Via {
	var v model.Via
	if rec.RoomID == c.RoomID {
		v |= model.ViaOwn
	}
	if rec.Cascade && slices.Contains(c.CascadeFrom, rec.RoomID) {
		v |= model.ViaCascade
	}
	if (c.ChildrenAll || rec.VisibleToParent) && slices.Contains(c.Children, rec.RoomID) {
		v |= model.ViaChild
	}
	if c.TargetRoomID != "" && slices.Contains(rec.TargetRoomIDs, c.TargetRoomID) {
		v |= model.ViaTarget
	}
	return v
}

func roomIDs(rooms []model.Room) []string {
	ids := make([]string, len(rooms))
	for i, r := range rooms {
		ids[i] = r.ID
	}
	return ids
}
