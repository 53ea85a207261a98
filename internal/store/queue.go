package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EnqueueFile добавляет в файловую очередь запись в статусе pending.
func (s *Store) EnqueueFile(ctx context.Context, q QueueEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_forward_queue
			(schedule_id, origin_channel, message_id, file_id, destination, status, enqueued_at)
		VALUES (?, ?, ?, ?, ?, 'pending', ?)
	`, q.ScheduleID, q.OriginChannel, q.MessageID, q.FileID, q.Destination, q.EnqueuedAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: enqueue file: %w", err)
	}
	return res.LastInsertId()
}

// DequeuePendingFiles возвращает до limit ожидающих записей: приоритет расписания
// по убыванию, внутри приоритета — FIFO.
func (s *Store) DequeuePendingFiles(ctx context.Context, limit int) ([]QueueEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT q.queue_id, q.schedule_id, q.origin_channel, q.message_id, q.file_id, q.destination,
			q.status, q.enqueued_at, q.attempted_at
		FROM file_forward_queue q
		LEFT JOIN schedule_entries e ON e.id = q.schedule_id
		WHERE q.status = 'pending'
		ORDER BY COALESCE(e.priority, 0) DESC, q.enqueued_at ASC, q.queue_id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: dequeue pending files: %w", err)
	}
	defer rows.Close()

	var out []QueueEntry
	for rows.Next() {
		var q QueueEntry
		var scheduleID, fileID sql.NullInt64
		var attempted sql.NullInt64
		var enqueued int64
		if err := rows.Scan(&q.QueueID, &scheduleID, &q.OriginChannel, &q.MessageID, &fileID,
			&q.Destination, &q.Status, &enqueued, &attempted); err != nil {
			return nil, fmt.Errorf("store: scan queue entry: %w", err)
		}
		if scheduleID.Valid {
			v := scheduleID.Int64
			q.ScheduleID = &v
		}
		if fileID.Valid {
			v := fileID.Int64
			q.FileID = &v
		}
		q.EnqueuedAt = time.Unix(enqueued, 0).UTC()
		if attempted.Valid {
			t := time.Unix(attempted.Int64, 0).UTC()
			q.AttemptedAt = &t
		}
		out = append(out, q)
	}
	return out, rows.Err()
}

// UpdateQueueStatus фиксирует исход попытки; для неудач текст ошибки пишется
// прямо в status как `error:<msg>`.
func (s *Store) UpdateQueueStatus(ctx context.Context, queueID int64, status string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE file_forward_queue SET status = ?, attempted_at = ? WHERE queue_id = ?
	`, status, at.Unix(), queueID)
	if err != nil {
		return fmt.Errorf("store: update queue status: %w", err)
	}
	return nil
}

// CreateSchedule вставляет новую запись расписания.
func (s *Store) CreateSchedule(ctx context.Context, e ScheduleEntry) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO schedule_entries (kind, cron_expr, params_json, priority, enabled)
		VALUES (?, ?, ?, ?, ?)
	`, string(e.Kind), e.CronExpr, e.ParamsJSON, e.Priority, boolToInt(e.Enabled))
	if err != nil {
		return 0, fmt.Errorf("store: create schedule: %w", err)
	}
	return res.LastInsertId()
}

// ListEnabledSchedules возвращает все включённые записи расписания — планировщик
// регистрирует их в cron-раннере при старте.
func (s *Store) ListEnabledSchedules(ctx context.Context) ([]ScheduleEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, cron_expr, params_json, priority, enabled, last_run_at
		FROM schedule_entries WHERE enabled = 1
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list schedules: %w", err)
	}
	defer rows.Close()

	var out []ScheduleEntry
	for rows.Next() {
		var e ScheduleEntry
		var kind string
		var enabled int
		var lastRun sql.NullInt64
		if err := rows.Scan(&e.ID, &kind, &e.CronExpr, &e.ParamsJSON, &e.Priority, &enabled, &lastRun); err != nil {
			return nil, fmt.Errorf("store: scan schedule: %w", err)
		}
		e.Kind = ScheduleKind(kind)
		e.Enabled = enabled != 0
		if lastRun.Valid {
			t := time.Unix(lastRun.Int64, 0).UTC()
			e.LastRunAt = &t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetSchedule возвращает запись расписания по id. Воркер очереди обращается сюда,
// когда элемент очереди поставлен без явного назначения.
func (s *Store) GetSchedule(ctx context.Context, id int64) (ScheduleEntry, error) {
	var e ScheduleEntry
	var kind string
	var enabled int
	var lastRun sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, cron_expr, params_json, priority, enabled, last_run_at
		FROM schedule_entries WHERE id = ?
	`, id).Scan(&e.ID, &kind, &e.CronExpr, &e.ParamsJSON, &e.Priority, &enabled, &lastRun)
	if err == sql.ErrNoRows {
		return ScheduleEntry{}, ErrNotFound
	}
	if err != nil {
		return ScheduleEntry{}, fmt.Errorf("store: get schedule %d: %w", id, err)
	}
	e.Kind = ScheduleKind(kind)
	e.Enabled = enabled != 0
	if lastRun.Valid {
		t := time.Unix(lastRun.Int64, 0).UTC()
		e.LastRunAt = &t
	}
	return e, nil
}

// SetScheduleEnabled включает или отключает запись расписания.
func (s *Store) SetScheduleEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE schedule_entries SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("store: set schedule %d enabled: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkScheduleRan проставляет last_run_at после срабатывания задачи.
func (s *Store) MarkScheduleRan(ctx context.Context, id int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE schedule_entries SET last_run_at = ? WHERE id = ?`, at.Unix(), id)
	if err != nil {
		return fmt.Errorf("store: mark schedule ran: %w", err)
	}
	return nil
}

// GetMirrorProgress возвращает последний сохранённый прогресс пары (источник, назначение).
func (s *Store) GetMirrorProgress(ctx context.Context, source, dest int64) (MirrorProgress, error) {
	var p MirrorProgress
	var updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT source_channel, dest_channel, last_message_id, status, updated_at
		FROM mirror_progress WHERE source_channel = ? AND dest_channel = ?
	`, source, dest).Scan(&p.SourceChannel, &p.DestChannel, &p.LastMessageID, &p.Status, &updated)
	if err == sql.ErrNoRows {
		return MirrorProgress{SourceChannel: source, DestChannel: dest, Status: "idle"}, ErrNotFound
	}
	if err != nil {
		return MirrorProgress{}, fmt.Errorf("store: get mirror progress: %w", err)
	}
	p.UpdatedAt = time.Unix(updated, 0).UTC()
	return p, nil
}

// SetMirrorProgress сохраняет последний отзеркаленный message id и статус пары.
func (s *Store) SetMirrorProgress(ctx context.Context, p MirrorProgress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mirror_progress (source_channel, dest_channel, last_message_id, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_channel, dest_channel) DO UPDATE SET
			last_message_id=excluded.last_message_id, status=excluded.status, updated_at=excluded.updated_at
	`, p.SourceChannel, p.DestChannel, p.LastMessageID, p.Status, p.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: set mirror progress: %w", err)
	}
	return nil
}
