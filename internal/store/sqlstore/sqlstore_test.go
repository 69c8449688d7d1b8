package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"churchcal/internal/model"
	"churchcal/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), Config{Driver: DriverSQLite, DSN: ":memory:?_foreign_keys=on"})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func ptr(s string) *string { return &s }

func mustRoom(t *testing.T, s *Store, id string, parent *string) model.Room {
	t.Helper()
	r := model.Room{
		ID:         id,
		Name:       "Room " + id,
		Slug:       "slug-" + id,
		Color:      "#123456",
		Type:       model.RoomMinistry,
		ParentID:   parent,
		InviteCode: "inv-" + id,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	if err := s.CreateRoom(context.Background(), &r); err != nil {
		t.Fatalf("create room %s: %v", id, err)
	}
	return r
}

func mustEvent(t *testing.T, s *Store, id, roomID string, mutate func(*model.Event)) model.Event {
	t.Helper()
	start := time.Date(2024, 3, 6, 19, 0, 0, 0, time.UTC)
	e := model.Event{
		ID:        id,
		RoomID:    roomID,
		Title:     "Event " + id,
		Start:     start,
		End:       start.Add(2 * time.Hour),
		CreatedAt: start,
		UpdatedAt: start,
	}
	if mutate != nil {
		mutate(&e)
	}
	if err := s.CreateEvent(context.Background(), &e); err != nil {
		t.Fatalf("create event %s: %v", id, err)
	}
	return e
}

func eventIDs(recs []model.EventRecord) []string {
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	return ids
}

func TestRoomLookups(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	parent := mustRoom(t, s, "p", nil)
	mustRoom(t, s, "c1", ptr(parent.ID))
	mustRoom(t, s, "c2", ptr(parent.ID))

	got, err := s.GetRoomBySlug(ctx, "slug-p")
	if err != nil || got == nil || got.ID != "p" {
		t.Fatalf("GetRoomBySlug = %+v, %v", got, err)
	}
	got, err = s.GetRoomByInviteCode(ctx, "inv-c1")
	if err != nil || got == nil || got.ID != "c1" {
		t.Fatalf("GetRoomByInviteCode = %+v, %v", got, err)
	}
	if got.ParentID == nil || *got.ParentID != "p" {
		t.Fatalf("expected parent p, got %v", got.ParentID)
	}

	missing, err := s.GetRoom(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("GetRoom(missing) = %+v, %v; want nil, nil", missing, err)
	}

	children, err := s.ListChildren(ctx, "p")
	if err != nil {
		t.Fatalf("ListChildren: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 children, got %d", len(children))
	}
}

func TestCreateRoomDuplicateSlug(t *testing.T) {
	s := openTestStore(t)
	mustRoom(t, s, "a", nil)

	dup := model.Room{ID: "b", Name: "B", Slug: "slug-a", Color: "#000000", Type: model.RoomSector, InviteCode: "other", CreatedAt: time.Now()}
	err := s.CreateRoom(context.Background(), &dup)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestAddMemberConflict(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustRoom(t, s, "a", nil)

	m := model.Member{UserID: "u1", RoomID: "a", Role: model.RoleOwner}
	if err := s.AddMember(ctx, m); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := s.AddMember(ctx, m); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate member, got %v", err)
	}
	got, err := s.GetMember(ctx, "u1", "a")
	if err != nil || got == nil || got.Role != model.RoleOwner {
		t.Fatalf("GetMember = %+v, %v", got, err)
	}
}

func TestFindEventsReturnsEachEventOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustRoom(t, s, "p", nil)
	mustRoom(t, s, "c", ptr("p"))

	// Cascades, is visible to the parent and is targeted: matches three rules.
	mustEvent(t, s, "e1", "c", func(e *model.Event) {
		e.Cascade = true
		e.VisibleToParent = true
	})
	if err := s.SetTargets(ctx, "e1", []string{"p", "p"}); err != nil {
		t.Fatalf("SetTargets: %v", err)
	}
	mustEvent(t, s, "e2", "c", nil)
	mustEvent(t, s, "e3", "p", nil)

	recs, err := s.FindEvents(ctx, store.EventCriteria{
		RoomID:       "p",
		CascadeFrom:  []string{"c"},
		Children:     []string{"c"},
		TargetRoomID: "p",
	})
	if err != nil {
		t.Fatalf("FindEvents: %v", err)
	}
	ids := eventIDs(recs)
	if len(ids) != 2 {
		t.Fatalf("expected e1 and e3 once each, got %v", ids)
	}
	for _, r := range recs {
		if r.ID == "e1" {
			if len(r.TargetRoomIDs) != 1 || r.TargetRoomIDs[0] != "p" {
				t.Fatalf("expected targets [p], got %v", r.TargetRoomIDs)
			}
			if r.RoomName != "Room c" {
				t.Fatalf("expected joined room name, got %q", r.RoomName)
			}
		}
	}

	all, err := s.FindEvents(ctx, store.EventCriteria{Children: []string{"c"}, ChildrenAll: true})
	if err != nil {
		t.Fatalf("FindEvents(all children): %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected both child events, got %v", eventIDs(all))
	}

	none, err := s.FindEvents(ctx, store.EventCriteria{})
	if err != nil || len(none) != 0 {
		t.Fatalf("empty criteria = %v, %v", eventIDs(none), err)
	}
}

func TestEventRecordJoinsCategory(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustRoom(t, s, "r", nil)
	cat := model.Category{ID: "cat", RoomID: "r", Name: "Worship", Color: "#ff0000"}
	if err := s.CreateCategory(ctx, &cat); err != nil {
		t.Fatalf("CreateCategory: %v", err)
	}
	mustEvent(t, s, "e", "r", func(e *model.Event) { e.CategoryID = ptr("cat") })

	rec, err := s.GetEvent(ctx, "e")
	if err != nil || rec == nil {
		t.Fatalf("GetEvent = %v, %v", rec, err)
	}
	if rec.CategoryColor == nil || *rec.CategoryColor != "#ff0000" {
		t.Fatalf("expected category color, got %v", rec.CategoryColor)
	}
	if !rec.Start.Equal(time.Date(2024, 3, 6, 19, 0, 0, 0, time.UTC)) {
		t.Fatalf("start not preserved: %v", rec.Start)
	}

	if err := s.DeleteCategory(ctx, "cat"); err != nil {
		t.Fatalf("DeleteCategory: %v", err)
	}
	rec, err = s.GetEvent(ctx, "e")
	if err != nil || rec == nil {
		t.Fatalf("GetEvent after category delete = %v, %v", rec, err)
	}
	if rec.CategoryID != nil || rec.CategoryColor != nil {
		t.Fatalf("expected category cleared, got %v", rec.CategoryID)
	}
}

func TestExceptions(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustRoom(t, s, "r", nil)
	mustEvent(t, s, "e", "r", func(e *model.Event) {
		e.RRule = "FREQ=WEEKLY"
		e.IsRecurring = true
	})

	d1 := time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC)
	d2 := time.Date(2024, 3, 20, 0, 0, 0, 0, time.UTC)
	for _, d := range []time.Time{d1, d1, d2} {
		if err := s.AddException(ctx, model.EventException{EventID: "e", ExceptionDate: d}); err != nil {
			t.Fatalf("AddException: %v", err)
		}
	}

	rec, _ := s.GetEvent(ctx, "e")
	if len(rec.Exceptions) != 2 {
		t.Fatalf("expected duplicate exception to be ignored, got %v", rec.Exceptions)
	}

	if err := s.DeleteExceptionsFrom(ctx, "e", d2); err != nil {
		t.Fatalf("DeleteExceptionsFrom: %v", err)
	}
	rec, _ = s.GetEvent(ctx, "e")
	if len(rec.Exceptions) != 1 || !rec.Exceptions[0].Equal(d1) {
		t.Fatalf("expected only %v, got %v", d1, rec.Exceptions)
	}

	n, err := s.PurgeExceptionsBefore(ctx, d2)
	if err != nil || n != 1 {
		t.Fatalf("PurgeExceptionsBefore = %d, %v", n, err)
	}
}

func TestWithTxRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	mustRoom(t, s, "r", nil)

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx store.Tx) error {
		e := model.Event{ID: "e", RoomID: "r", Title: "x", Start: time.Now(), End: time.Now(), CreatedAt: time.Now(), UpdatedAt: time.Now()}
		if err := tx.CreateEvent(ctx, &e); err != nil {
			return err
		}
		if got, _ := tx.GetEvent(ctx, "e"); got == nil {
			t.Fatal("event not visible inside transaction")
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if got, _ := s.GetEvent(ctx, "e"); got != nil {
		t.Fatal("event survived rollback")
	}
}

func TestDeleteRoomDetachesChildren(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	mustRoom(t, s, "p", nil)
	mustRoom(t, s, "c", ptr("p"))
	mustEvent(t, s, "e", "p", nil)

	if err := s.DeleteRoom(ctx, "p"); err != nil {
		t.Fatalf("DeleteRoom: %v", err)
	}
	if got, _ := s.GetEvent(ctx, "e"); got != nil {
		t.Fatal("event of deleted room survived")
	}
	child, _ := s.GetRoom(ctx, "c")
	if child == nil || child.ParentID != nil {
		t.Fatalf("expected detached child, got %+v", child)
	}
	if err := s.DeleteRoom(ctx, "p"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFollowers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	r := mustRoom(t, s, "r1", nil)
	f := model.Follower{UserID: "u1", RoomID: r.ID, CreatedAt: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)}

	if err := s.AddFollower(ctx, f); err != nil {
		t.Fatalf("add follower: %v", err)
	}
	if err := s.AddFollower(ctx, f); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if ok, err := s.IsFollowing(ctx, "u1", r.ID); err != nil || !ok {
		t.Fatalf("expected u1 to follow, got %v, %v", ok, err)
	}
	if n, _ := s.CountFollowers(ctx, r.ID); n != 1 {
		t.Fatalf("expected 1 follower, got %d", n)
	}

	if err := s.RemoveFollower(ctx, "u1", r.ID); err != nil {
		t.Fatalf("remove follower: %v", err)
	}
	if err := s.RemoveFollower(ctx, "u1", r.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := s.AddFollower(ctx, f); err != nil {
		t.Fatalf("re-add follower: %v", err)
	}
	if err := s.DeleteRoom(ctx, r.ID); err != nil {
		t.Fatalf("delete room: %v", err)
	}
	if n, _ := s.CountFollowers(ctx, r.ID); n != 0 {
		t.Fatalf("followers survived room deletion: %d", n)
	}
}
