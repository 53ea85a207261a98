package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// ErrNotFound возвращают операции поиска, не нашедшие подходящей строки.
var ErrNotFound = errors.New("store: not found")

// HashExists сообщает, известен ли уже sha256 — персистентная половина
// двухуровневой проверки дедупликатора.
func (s *Store) HashExists(ctx context.Context, sha256 string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM file_hashes WHERE sha256 = ?`, sha256).Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("store: check hash: %w", err)
	}
	return true, nil
}

// UpsertHash вставляет новую строку FileHash и возвращает её file_id. Если sha256
// уже известен, возвращается существующий file_id, строка не трогается: FileHash
// никогда не мутируется.
func (s *Store) UpsertHash(ctx context.Context, h FileHash) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO file_hashes (sha256, perceptual_hash, fuzzy_hash, first_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(sha256) DO NOTHING
	`, h.SHA256, nullIfEmpty(h.PerceptualHash), nullIfEmpty(h.FuzzyHash), h.FirstSeenAt.Unix())
	if err != nil {
		return 0, fmt.Errorf("store: upsert hash: %w", err)
	}
	// После DO NOTHING LastInsertId хранит id прошлой вставки соединения, поэтому
	// ему верим, только если строка действительно вставлена.
	if n, err := res.RowsAffected(); err == nil && n == 1 {
		if id, err := res.LastInsertId(); err == nil && id != 0 {
			return id, nil
		}
	}

	var id int64
	if err := s.db.QueryRowContext(ctx, `SELECT file_id FROM file_hashes WHERE sha256 = ?`, h.SHA256).Scan(&id); err != nil {
		return 0, fmt.Errorf("store: fetch existing hash id: %w", err)
	}
	return id, nil
}

func nullIfEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

// RecordInventory фиксирует успешную пересылку файла строкой инвентаря.
// Таблица append-only: каждая успешная пересылка — новая строка, прошлые
// записи аудита никогда не перезаписываются.
func (s *Store) RecordInventory(ctx context.Context, row InventoryRow) error {
	var topic any
	if row.TopicID != nil {
		topic = *row.TopicID
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_file_inventory (channel_id, message_id, file_id, topic_id, forwarded_at)
		VALUES (?, ?, ?, ?, ?)
	`, row.ChannelID, row.MessageID, row.FileID, topic, row.ForwardedAt.Unix())
	if err != nil {
		return fmt.Errorf("store: record inventory: %w", err)
	}
	return nil
}

// SeedHashes отдаёт fn все известные sha256 по одному — прогрев in-memory
// множества дедупликатора при старте. Читает курсором, без загрузки таблицы целиком.
func (s *Store) SeedHashes(ctx context.Context, fn func(sha256 string) error) error {
	rows, err := s.db.QueryContext(ctx, `SELECT sha256 FROM file_hashes`)
	if err != nil {
		return fmt.Errorf("store: seed hashes: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			return fmt.Errorf("store: scan hash: %w", err)
		}
		if err := fn(sha); err != nil {
			return err
		}
	}
	return rows.Err()
}
