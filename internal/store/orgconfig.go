package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ChannelOrgConfig — настройки организации топиков для одного канала-назначения,
// перекрывающие глобальные значения из internal/infra/config.
type ChannelOrgConfig struct {
	ChannelID            int64
	Mode                 string
	TopicStrategy        string
	FallbackStrategy     string
	MaxTopics            int
	CooldownSeconds      int
	EnableClassification bool
	ConfidenceThreshold  float64
	GeneralTopicTitle    string
	AutoCleanup          bool
	EnableStats          bool
	Debug                bool
}

// UpsertOrgConfig сохраняет поканальные настройки организации.
func (s *Store) UpsertOrgConfig(ctx context.Context, c ChannelOrgConfig) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO organization_config
			(channel_id, mode, topic_strategy, fallback_strategy, max_topics, cooldown_s,
			 enable_classification, confidence_threshold, general_topic_title, auto_cleanup,
			 enable_stats, debug)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(channel_id) DO UPDATE SET
			mode=excluded.mode, topic_strategy=excluded.topic_strategy,
			fallback_strategy=excluded.fallback_strategy, max_topics=excluded.max_topics,
			cooldown_s=excluded.cooldown_s, enable_classification=excluded.enable_classification,
			confidence_threshold=excluded.confidence_threshold,
			general_topic_title=excluded.general_topic_title, auto_cleanup=excluded.auto_cleanup,
			enable_stats=excluded.enable_stats, debug=excluded.debug
	`, c.ChannelID, c.Mode, c.TopicStrategy, c.FallbackStrategy, c.MaxTopics, c.CooldownSeconds,
		boolToInt(c.EnableClassification), c.ConfidenceThreshold, c.GeneralTopicTitle,
		boolToInt(c.AutoCleanup), boolToInt(c.EnableStats), boolToInt(c.Debug))
	if err != nil {
		return fmt.Errorf("store: upsert org config: %w", err)
	}
	return nil
}

// GetOrgConfig возвращает поканальные настройки либо ErrNotFound, если канал живёт на дефолтах.
func (s *Store) GetOrgConfig(ctx context.Context, channelID int64) (ChannelOrgConfig, error) {
	var c ChannelOrgConfig
	var classification, cleanup, stats, debug int
	err := s.db.QueryRowContext(ctx, `
		SELECT channel_id, mode, topic_strategy, fallback_strategy, max_topics, cooldown_s,
			enable_classification, confidence_threshold, general_topic_title, auto_cleanup,
			enable_stats, debug
		FROM organization_config WHERE channel_id = ?
	`, channelID).Scan(&c.ChannelID, &c.Mode, &c.TopicStrategy, &c.FallbackStrategy, &c.MaxTopics,
		&c.CooldownSeconds, &classification, &c.ConfidenceThreshold, &c.GeneralTopicTitle,
		&cleanup, &stats, &debug)
	if err == sql.ErrNoRows {
		return ChannelOrgConfig{}, ErrNotFound
	}
	if err != nil {
		return ChannelOrgConfig{}, fmt.Errorf("store: get org config: %w", err)
	}
	c.EnableClassification = classification != 0
	c.AutoCleanup = cleanup != 0
	c.EnableStats = stats != 0
	c.Debug = debug != 0
	return c, nil
}
