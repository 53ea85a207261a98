package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// UpsertTopic вставляет или обновляет строку топика, ключ (channel_id, topic_id).
func (s *Store) UpsertTopic(ctx context.Context, t ForumTopic) (int64, error) {
	var emoji any
	if t.IconEmojiID != nil {
		emoji = *t.IconEmojiID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO forum_topics
			(channel_id, topic_id, title, icon_color, icon_emoji_id, category, subcategory,
			 description, message_count, created_at, last_activity_at, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id, topic_id) DO UPDATE SET
			title=excluded.title, icon_color=excluded.icon_color, icon_emoji_id=excluded.icon_emoji_id,
			category=excluded.category, subcategory=excluded.subcategory, description=excluded.description,
			message_count=excluded.message_count, last_activity_at=excluded.last_activity_at,
			is_active=excluded.is_active
	`, t.ChannelID, t.TopicID, t.Title, t.IconColor, emoji, nullIfEmpty(t.Category), nullIfEmpty(t.Subcategory),
		nullIfEmpty(t.Description), t.MessageCount, t.CreatedAt.Unix(), t.LastActivityAt.Unix(), boolToInt(t.IsActive))
	if err != nil {
		return 0, fmt.Errorf("store: upsert topic: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id != 0 {
		return id, nil
	}
	var id int64
	err = s.db.QueryRowContext(ctx, `SELECT id FROM forum_topics WHERE channel_id = ? AND topic_id = ?`,
		t.ChannelID, t.TopicID).Scan(&id)
	return id, err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// FindTopic ищет активный топик по (канал, категория) — запасной путь менеджера
// топиков при промахе или протухании записи в LRU-кеше.
func (s *Store) FindTopic(ctx context.Context, channelID int64, category string) (ForumTopic, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, channel_id, topic_id, title, icon_color, icon_emoji_id, category, subcategory,
			description, message_count, created_at, last_activity_at, is_active
		FROM forum_topics WHERE channel_id = ? AND category = ? AND is_active = 1
		ORDER BY last_activity_at DESC LIMIT 1
	`, channelID, category)
	t, err := scanTopic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ForumTopic{}, ErrNotFound
	}
	return t, err
}

// ListTopics возвращает все топики канала, включая неактивные.
func (s *Store) ListTopics(ctx context.Context, channelID int64) ([]ForumTopic, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, channel_id, topic_id, title, icon_color, icon_emoji_id, category, subcategory,
			description, message_count, created_at, last_activity_at, is_active
		FROM forum_topics WHERE channel_id = ?
	`, channelID)
	if err != nil {
		return nil, fmt.Errorf("store: list topics: %w", err)
	}
	defer rows.Close()

	var out []ForumTopic
	for rows.Next() {
		t, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTopic(r rowScanner) (ForumTopic, error) {
	var t ForumTopic
	var emoji sql.NullInt64
	var category, subcategory, description sql.NullString
	var created, lastActivity int64
	var active int
	if err := r.Scan(&t.ID, &t.ChannelID, &t.TopicID, &t.Title, &t.IconColor, &emoji, &category,
		&subcategory, &description, &t.MessageCount, &created, &lastActivity, &active); err != nil {
		return ForumTopic{}, fmt.Errorf("store: scan topic: %w", err)
	}
	if emoji.Valid {
		v := emoji.Int64
		t.IconEmojiID = &v
	}
	t.Category = category.String
	t.Subcategory = subcategory.String
	t.Description = description.String
	t.CreatedAt = time.Unix(created, 0).UTC()
	t.LastActivityAt = time.Unix(lastActivity, 0).UTC()
	t.IsActive = active != 0
	return t, nil
}

// DeactivateTopic мягко удаляет топик (is_active=false); строка остаётся в таблице.
func (s *Store) DeactivateTopic(ctx context.Context, channelID, topicID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE forum_topics SET is_active = 0 WHERE channel_id = ? AND topic_id = ?
	`, channelID, topicID)
	if err != nil {
		return fmt.Errorf("store: deactivate topic: %w", err)
	}
	return nil
}

// BumpTopicActivity увеличивает message_count и обновляет last_activity_at топика.
func (s *Store) BumpTopicActivity(ctx context.Context, channelID, topicID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE forum_topics SET message_count = message_count + 1, last_activity_at = ?
		WHERE channel_id = ? AND topic_id = ?
	`, at.Unix(), channelID, topicID)
	if err != nil {
		return fmt.Errorf("store: bump topic activity: %w", err)
	}
	return nil
}
