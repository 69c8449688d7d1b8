package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"churchcal/internal/model"
	"churchcal/internal/store"
)

const roomColumns = `id, name, slug, color, type, parent_id, group_label, block_parent_cascade, invite_code, created_at`

func (q *queries) getRoomWhere(ctx context.Context, where string, arg any) (*model.Room, error) {
	var r model.Room
	err := sqlx.GetContext(ctx, q.x, &r, q.rebind(`SELECT `+roomColumns+` FROM rooms WHERE `+where), arg)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get room: %w", err)
	}
	return &r, nil
}

func (q *queries) GetRoom(ctx context.Context, id string) (*model.Room, error) {
	return q.getRoomWhere(ctx, `id = ?`, id)
}

func (q *queries) GetRoomBySlug(ctx context.Context, slug string) (*model.Room, error) {
	return q.getRoomWhere(ctx, `slug = ?`, slug)
}

func (q *queries) GetRoomByInviteCode(ctx context.Context, code string) (*model.Room, error) {
	return q.getRoomWhere(ctx, `invite_code = ?`, code)
}

func (q *queries) ListChildren(ctx context.Context, parentID string) ([]model.Room, error) {
	rooms := []model.Room{}
	err := sqlx.SelectContext(ctx, q.x, &rooms,
		q.rebind(`SELECT `+roomColumns+` FROM rooms WHERE parent_id = ? ORDER BY name, id`), parentID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list children: %w", err)
	}
	return rooms, nil
}

func (q *queries) CreateRoom(ctx context.Context, r *model.Room) error {
	r.CreatedAt = r.CreatedAt.UTC()
	_, err := sqlx.NamedExecContext(ctx, q.x, `
		INSERT INTO rooms (`+roomColumns+`)
		VALUES (:id, :name, :slug, :color, :type, :parent_id, :group_label, :block_parent_cascade, :invite_code, :created_at)`, r)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("sqlstore: create room: %w", err)
	}
	return nil
}

func (q *queries) UpdateRoom(ctx context.Context, r *model.Room) error {
	res, err := sqlx.NamedExecContext(ctx, q.x, `
		UPDATE rooms SET
			name = :name,
			slug = :slug,
			color = :color,
			type = :type,
			parent_id = :parent_id,
			group_label = :group_label,
			block_parent_cascade = :block_parent_cascade,
			invite_code = :invite_code
		WHERE id = :id`, r)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("sqlstore: update room: %w", err)
	}
	return requireRow(res)
}

// DeleteRoom removes the room with its members, followers, categories and
// events.
// Children are detached, not deleted.
func (q *queries) DeleteRoom(ctx context.Context, id string) error {
	stmts := []string{
		`DELETE FROM event_exceptions WHERE event_id IN (SELECT id FROM events WHERE room_id = ?)`,
		`DELETE FROM event_targets WHERE event_id IN (SELECT id FROM events WHERE room_id = ?)`,
		`DELETE FROM event_targets WHERE room_id = ?`,
		`UPDATE events SET original_event_id = NULL WHERE original_event_id IN (SELECT id FROM events WHERE room_id = ?)`,
		`DELETE FROM events WHERE room_id = ?`,
		`DELETE FROM categories WHERE room_id = ?`,
		`DELETE FROM members WHERE room_id = ?`,
		`DELETE FROM followers WHERE room_id = ?`,
		`UPDATE rooms SET parent_id = NULL WHERE parent_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := q.x.ExecContext(ctx, q.rebind(stmt), id); err != nil {
			return fmt.Errorf("sqlstore: delete room: %w", err)
		}
	}
	res, err := q.x.ExecContext(ctx, q.rebind(`DELETE FROM rooms WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete room: %w", err)
	}
	return requireRow(res)
}

func (q *queries) GetMember(ctx context.Context, userID, roomID string) (*model.Member, error) {
	var m model.Member
	err := sqlx.GetContext(ctx, q.x, &m,
		q.rebind(`SELECT user_id, room_id, role FROM members WHERE user_id = ? AND room_id = ?`), userID, roomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get member: %w", err)
	}
	return &m, nil
}

func (q *queries) AddMember(ctx context.Context, m model.Member) error {
	_, err := sqlx.NamedExecContext(ctx, q.x,
		`INSERT INTO members (user_id, room_id, role) VALUES (:user_id, :room_id, :role)`, m)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("sqlstore: add member: %w", err)
	}
	return nil
}

func (q *queries) IsFollowing(ctx context.Context, userID, roomID string) (bool, error) {
	var n int
	err := sqlx.GetContext(ctx, q.x, &n,
		q.rebind(`SELECT COUNT(*) FROM followers WHERE user_id = ? AND room_id = ?`), userID, roomID)
	if err != nil {
		return false, fmt.Errorf("sqlstore: is following: %w", err)
	}
	return n > 0, nil
}

func (q *queries) CountFollowers(ctx context.Context, roomID string) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, q.x, &n, q.rebind(`SELECT COUNT(*) FROM followers WHERE room_id = ?`), roomID); err != nil {
		return 0, fmt.Errorf("sqlstore: count followers: %w", err)
	}
	return n, nil
}

func (q *queries) AddFollower(ctx context.Context, f model.Follower) error {
	f.CreatedAt = f.CreatedAt.UTC()
	_, err := sqlx.NamedExecContext(ctx, q.x,
		`INSERT INTO followers (user_id, room_id, created_at) VALUES (:user_id, :room_id, :created_at)`, f)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("sqlstore: add follower: %w", err)
	}
	return nil
}

func (q *queries) RemoveFollower(ctx context.Context, userID, roomID string) error {
	res, err := q.x.ExecContext(ctx,
		q.rebind(`DELETE FROM followers WHERE user_id = ? AND room_id = ?`), userID, roomID)
	if err != nil {
		return fmt.Errorf("sqlstore: remove follower: %w", err)
	}
	return requireRow(res)
}

func (q *queries) GetCategory(ctx context.Context, id string) (*model.Category, error) {
	var c model.Category
	err := sqlx.GetContext(ctx, q.x, &c,
		q.rebind(`SELECT id, room_id, name, color FROM categories WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get category: %w", err)
	}
	return &c, nil
}

func (q *queries) ListCategories(ctx context.Context, roomID string) ([]model.Category, error) {
	cats := []model.Category{}
	err := sqlx.SelectContext(ctx, q.x, &cats,
		q.rebind(`SELECT id, room_id, name, color FROM categories WHERE room_id = ? ORDER BY name, id`), roomID)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: list categories: %w", err)
	}
	return cats, nil
}

func (q *queries) CreateCategory(ctx context.Context, c *model.Category) error {
	_, err := sqlx.NamedExecContext(ctx, q.x,
		`INSERT INTO categories (id, room_id, name, color) VALUES (:id, :room_id, :name, :color)`, c)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("sqlstore: create category: %w", err)
	}
	return nil
}

func (q *queries) DeleteCategory(ctx context.Context, id string) error {
	if _, err := q.x.ExecContext(ctx, q.rebind(`UPDATE events SET category_id = NULL WHERE category_id = ?`), id); err != nil {
		return fmt.Errorf("sqlstore: delete category: %w", err)
	}
	res, err := q.x.ExecContext(ctx, q.rebind(`DELETE FROM categories WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete category: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: rows affected: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}
