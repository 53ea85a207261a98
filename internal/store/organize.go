package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// UpsertContentMetadata записывает классификацию сообщения, upsert по (channel_id, message_id).
func (s *Store) UpsertContentMetadata(ctx context.Context, m ContentMetadata) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_metadata
			(message_id, channel_id, content_type, category, subcategory, file_ext, file_size,
			 mime, duration, width, height, keywords, confidence, extra_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, message_id) DO UPDATE SET
			content_type=excluded.content_type, category=excluded.category,
			subcategory=excluded.subcategory, file_ext=excluded.file_ext, file_size=excluded.file_size,
			mime=excluded.mime, duration=excluded.duration, width=excluded.width, height=excluded.height,
			keywords=excluded.keywords, confidence=excluded.confidence, extra_json=excluded.extra_json
	`, m.MessageID, m.ChannelID, m.ContentType, m.Category, nullIfEmpty(m.Subcategory),
		nullIfEmpty(m.FileExt), m.FileSize, nullIfEmpty(m.MIME), m.Duration, m.Width, m.Height,
		m.Keywords, m.Confidence, nullIfEmpty(m.ExtraJSON))
	if err != nil {
		return fmt.Errorf("store: upsert content metadata: %w", err)
	}
	return nil
}

// UpsertAssignment записывает привязку сообщения к топику, upsert по (channel_id, message_id).
func (s *Store) UpsertAssignment(ctx context.Context, a TopicAssignment) error {
	var topic any
	if a.TopicID != nil {
		topic = *a.TopicID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO topic_assignments
			(message_id, channel_id, topic_id, topic_title, category, method, confidence,
			 fallback_used, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, message_id) DO UPDATE SET
			topic_id=excluded.topic_id, topic_title=excluded.topic_title, category=excluded.category,
			method=excluded.method, confidence=excluded.confidence, fallback_used=excluded.fallback_used
	`, a.MessageID, a.ChannelID, topic, nullIfEmpty(a.TopicTitle), nullIfEmpty(a.Category),
		string(a.Method), a.Confidence, boolToInt(a.FallbackUsed), a.CreatedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert assignment: %w", err)
	}
	return nil
}

// AccumulateStats — единственный путь записи статистики: атомарный upsert,
// прибавляющий поля delta к строке (channel_id, date) либо засевающий новую.
func (s *Store) AccumulateStats(ctx context.Context, channelID int64, date string, delta StatsDelta) error {
	return s.WithTx(ctx, func(tx *sql.Tx) error {
		var existing string
		err := tx.QueryRowContext(ctx, `
			SELECT categories_json FROM organization_stats WHERE channel_id = ? AND date = ?
		`, channelID, date).Scan(&existing)

		categories := map[string]int{}
		if err == nil {
			_ = json.Unmarshal([]byte(existing), &categories)
		} else if err != sql.ErrNoRows {
			return fmt.Errorf("store: read stats: %w", err)
		}
		for k, v := range delta.CategoryDelta {
			categories[k] += v
		}
		encoded, err := json.Marshal(categories)
		if err != nil {
			return fmt.Errorf("store: encode categories: %w", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO organization_stats
				(channel_id, date, messages_processed, topics_created, successful_assignments,
				 failed_assignments, fallback_used, categories_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(channel_id, date) DO UPDATE SET
				messages_processed = messages_processed + excluded.messages_processed,
				topics_created = topics_created + excluded.topics_created,
				successful_assignments = successful_assignments + excluded.successful_assignments,
				failed_assignments = failed_assignments + excluded.failed_assignments,
				fallback_used = fallback_used + excluded.fallback_used,
				categories_json = excluded.categories_json
		`, channelID, date, delta.MessagesProcessed, delta.TopicsCreated, delta.SuccessfulAssignments,
			delta.FailedAssignments, delta.FallbackUsed, string(encoded))
		if err != nil {
			return fmt.Errorf("store: accumulate stats: %w", err)
		}
		return nil
	})
}

// GetStats возвращает накопленную статистику для (channel, date), если она есть.
func (s *Store) GetStats(ctx context.Context, channelID int64, date string) (OrganizationStats, error) {
	var stats OrganizationStats
	var categoriesJSON string
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, date, messages_processed, topics_created, successful_assignments,
			failed_assignments, fallback_used, categories_json
		FROM organization_stats WHERE channel_id = ? AND date = ?
	`, channelID, date).Scan(&stats.ChannelID, &stats.Date, &stats.MessagesProcessed, &stats.TopicsCreated,
		&stats.SuccessfulAssignments, &stats.FailedAssignments, &stats.FallbackUsed, &categoriesJSON)
	if err == sql.ErrNoRows {
		return OrganizationStats{ChannelID: channelID, Date: date, Categories: map[string]int{}}, ErrNotFound
	}
	if err != nil {
		return OrganizationStats{}, fmt.Errorf("store: get stats: %w", err)
	}
	stats.Categories = map[string]int{}
	_ = json.Unmarshal([]byte(categoriesJSON), &stats.Categories)
	return stats, nil
}
