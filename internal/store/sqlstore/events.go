package sqlstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"churchcal/internal/model"
	"churchcal/internal/store"
)

const eventColumns = `id, room_id, title, description, category_id, start_at, end_at, all_day, rrule,
	is_recurring, cascades, visible_to_parent, original_event_id, created_at, updated_at`

const selectEventRecords = `
	SELECT
		e.id, e.room_id, e.title, e.description, e.category_id, e.start_at, e.end_at,
		e.all_day, e.rrule, e.is_recurring, e.cascades, e.visible_to_parent,
		e.original_event_id, e.created_at, e.updated_at,
		r.name AS room_name, r.color AS room_color, r.type AS room_type,
		c.name AS category_name, c.color AS category_color
	FROM events e
	JOIN rooms r ON r.id = e.room_id
	LEFT JOIN categories c ON c.id = e.category_id`

func (q *queries) GetEvent(ctx context.Context, id string) (*model.EventRecord, error) {
	recs, err := q.selectRecords(ctx, selectEventRecords+` WHERE e.id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return &recs[0], nil
}

// FindEvents ORs the populated criteria into a single query so that an
// event admitted by several rules is returned once.
func (q *queries) FindEvents(ctx context.Context, c store.EventCriteria) ([]model.EventRecord, error) {
	if c.Empty() {
		return []model.EventRecord{}, nil
	}

	var (
		conds []string
		args  []any
	)
	if c.RoomID != "" {
		conds = append(conds, `e.room_id = ?`)
		args = append(args, c.RoomID)
	}
	if len(c.CascadeFrom) > 0 {
		conds = append(conds, `(e.cascades = ? AND e.room_id IN (?))`)
		args = append(args, true, c.CascadeFrom)
	}
	if len(c.Children) > 0 {
		if c.ChildrenAll {
			conds = append(conds, `e.room_id IN (?)`)
			args = append(args, c.Children)
		} else {
			conds = append(conds, `(e.visible_to_parent = ? AND e.room_id IN (?))`)
			args = append(args, true, c.Children)
		}
	}
	if c.TargetRoomID != "" {
		conds = append(conds, `e.id IN (SELECT t.event_id FROM event_targets t WHERE t.room_id = ?)`)
		args = append(args, c.TargetRoomID)
	}

	query, inArgs, err := sqlx.In(selectEventRecords+` WHERE `+strings.Join(conds, ` OR `)+` ORDER BY e.start_at, e.id`, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: find events: %w", err)
	}
	return q.selectRecords(ctx, query, inArgs...)
}

// selectRecords runs query (with ? placeholders) and attaches exceptions
// and targets to every record.
func (q *queries) selectRecords(ctx context.Context, query string, args ...any) ([]model.EventRecord, error) {
	recs := []model.EventRecord{}
	if err := sqlx.SelectContext(ctx, q.x, &recs, q.rebind(query), args...); err != nil {
		return nil, fmt.Errorf("sqlstore: select events: %w", err)
	}
	if len(recs) == 0 {
		return recs, nil
	}

	ids := make([]string, len(recs))
	index := make(map[string]int, len(recs))
	for i := range recs {
		ids[i] = recs[i].ID
		index[recs[i].ID] = i
		recs[i].Start = recs[i].Start.UTC()
		recs[i].End = recs[i].End.UTC()
	}

	var exceptions []model.EventException
	if err := q.selectIn(ctx, &exceptions,
		`SELECT event_id, exception_date FROM event_exceptions WHERE event_id IN (?) ORDER BY exception_date`, ids); err != nil {
		return nil, fmt.Errorf("sqlstore: load exceptions: %w", err)
	}
	for _, ex := range exceptions {
		i := index[ex.EventID]
		recs[i].Exceptions = append(recs[i].Exceptions, ex.ExceptionDate.UTC())
	}

	var targets []struct {
		EventID string `db:"event_id"`
		RoomID  string `db:"room_id"`
	}
	if err := q.selectIn(ctx, &targets,
		`SELECT event_id, room_id FROM event_targets WHERE event_id IN (?) ORDER BY room_id`, ids); err != nil {
		return nil, fmt.Errorf("sqlstore: load targets: %w", err)
	}
	for _, t := range targets {
		i := index[t.EventID]
		recs[i].TargetRoomIDs = append(recs[i].TargetRoomIDs, t.RoomID)
	}

	return recs, nil
}

func (q *queries) selectIn(ctx context.Context, dest any, query string, ids []string) error {
	query, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return sqlx.SelectContext(ctx, q.x, dest, q.rebind(query), args...)
}

func (q *queries) CreateEvent(ctx context.Context, e *model.Event) error {
	normalizeEventTimes(e)
	_, err := sqlx.NamedExecContext(ctx, q.x, `
		INSERT INTO events (`+eventColumns+`)
		VALUES (:id, :room_id, :title, :description, :category_id, :start_at, :end_at, :all_day, :rrule,
			:is_recurring, :cascades, :visible_to_parent, :original_event_id, :created_at, :updated_at)`, e)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("sqlstore: create event: %w", err)
	}
	return nil
}

func (q *queries) UpdateEvent(ctx context.Context, e *model.Event) error {
	normalizeEventTimes(e)
	res, err := sqlx.NamedExecContext(ctx, q.x, `
		UPDATE events SET
			title = :title,
			description = :description,
			category_id = :category_id,
			start_at = :start_at,
			end_at = :end_at,
			all_day = :all_day,
			rrule = :rrule,
			is_recurring = :is_recurring,
			cascades = :cascades,
			visible_to_parent = :visible_to_parent,
			updated_at = :updated_at
		WHERE id = :id`, e)
	if err != nil {
		return fmt.Errorf("sqlstore: update event: %w", err)
	}
	return requireRow(res)
}

func (q *queries) DeleteEvent(ctx context.Context, id string) error {
	stmts := []string{
		`DELETE FROM event_exceptions WHERE event_id = ?`,
		`DELETE FROM event_targets WHERE event_id = ?`,
		`UPDATE events SET original_event_id = NULL WHERE original_event_id = ?`,
	}
	for _, stmt := range stmts {
		if _, err := q.x.ExecContext(ctx, q.rebind(stmt), id); err != nil {
			return fmt.Errorf("sqlstore: delete event: %w", err)
		}
	}
	res, err := q.x.ExecContext(ctx, q.rebind(`DELETE FROM events WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("sqlstore: delete event: %w", err)
	}
	return requireRow(res)
}

func (q *queries) AddException(ctx context.Context, ex model.EventException) error {
	_, err := q.x.ExecContext(ctx,
		q.rebind(`INSERT INTO event_exceptions (event_id, exception_date) VALUES (?, ?) ON CONFLICT DO NOTHING`),
		ex.EventID, ex.ExceptionDate.UTC())
	if err != nil {
		return fmt.Errorf("sqlstore: add exception: %w", err)
	}
	return nil
}

func (q *queries) ClearExceptions(ctx context.Context, eventID string) error {
	if _, err := q.x.ExecContext(ctx, q.rebind(`DELETE FROM event_exceptions WHERE event_id = ?`), eventID); err != nil {
		return fmt.Errorf("sqlstore: clear exceptions: %w", err)
	}
	return nil
}

func (q *queries) DeleteExceptionsFrom(ctx context.Context, eventID string, from time.Time) error {
	_, err := q.x.ExecContext(ctx,
		q.rebind(`DELETE FROM event_exceptions WHERE event_id = ? AND exception_date >= ?`), eventID, from.UTC())
	if err != nil {
		return fmt.Errorf("sqlstore: delete exceptions: %w", err)
	}
	return nil
}

func (q *queries) PurgeExceptionsBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := q.x.ExecContext(ctx, q.rebind(`DELETE FROM event_exceptions WHERE exception_date < ?`), t.UTC())
	if err != nil {
		return 0, fmt.Errorf("sqlstore: purge exceptions: %w", err)
	}
	return res.RowsAffected()
}

func (q *queries) SetTargets(ctx context.Context, eventID string, roomIDs []string) error {
	if _, err := q.x.ExecContext(ctx, q.rebind(`DELETE FROM event_targets WHERE event_id = ?`), eventID); err != nil {
		return fmt.Errorf("sqlstore: set targets: %w", err)
	}
	seen := make(map[string]bool, len(roomIDs))
	for _, roomID := range roomIDs {
		if roomID == "" || seen[roomID] {
			continue
		}
		seen[roomID] = true
		if _, err := q.x.ExecContext(ctx,
			q.rebind(`INSERT INTO event_targets (event_id, room_id) VALUES (?, ?)`), eventID, roomID); err != nil {
			return fmt.Errorf("sqlstore: set targets: %w", err)
		}
	}
	return nil
}

func normalizeEventTimes(e *model.Event) {
	e.Start = e.Start.UTC()
	e.End = e.End.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.UpdatedAt = e.UpdatedAt.UTC()
}
