package store

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations — упорядоченный список шагов схемы, только вперёд.
// Прошлые записи не редактируются; новые изменения добавляются в конец списка.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);`,

	`CREATE TABLE IF NOT EXISTS accounts (
		session_id     TEXT PRIMARY KEY,
		api_id         INTEGER NOT NULL,
		api_hash       TEXT NOT NULL,
		phone          TEXT NOT NULL,
		status         TEXT NOT NULL DEFAULT 'active',
		cooldown_until INTEGER,
		usage_count    INTEGER NOT NULL DEFAULT 0,
		last_error     TEXT
	);

	CREATE TABLE IF NOT EXISTS channel_access (
		account_id   TEXT NOT NULL REFERENCES accounts(session_id),
		channel_id   INTEGER NOT NULL,
		channel_title TEXT,
		last_seen_at INTEGER NOT NULL,
		PRIMARY KEY (account_id, channel_id)
	);

	CREATE TABLE IF NOT EXISTS file_hashes (
		file_id         INTEGER PRIMARY KEY AUTOINCREMENT,
		sha256          TEXT NOT NULL UNIQUE,
		perceptual_hash TEXT,
		fuzzy_hash      TEXT,
		first_seen_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS channel_file_inventory (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id   INTEGER NOT NULL,
		message_id   INTEGER NOT NULL,
		file_id      INTEGER NOT NULL REFERENCES file_hashes(file_id),
		topic_id     INTEGER,
		forwarded_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_inventory_channel_message
		ON channel_file_inventory(channel_id, message_id);

	CREATE TABLE IF NOT EXISTS forum_topics (
		id              INTEGER PRIMARY KEY AUTOINCREMENT,
		channel_id      INTEGER NOT NULL,
		topic_id        INTEGER NOT NULL,
		title           TEXT NOT NULL,
		icon_color      INTEGER NOT NULL DEFAULT 0,
		icon_emoji_id   INTEGER,
		category        TEXT,
		subcategory     TEXT,
		description     TEXT,
		message_count   INTEGER NOT NULL DEFAULT 0,
		created_at      INTEGER NOT NULL,
		last_activity_at INTEGER NOT NULL,
		is_active       INTEGER NOT NULL DEFAULT 1,
		UNIQUE (channel_id, topic_id)
	);

	CREATE TABLE IF NOT EXISTS content_metadata (
		message_id  INTEGER NOT NULL,
		channel_id  INTEGER NOT NULL,
		content_type TEXT NOT NULL,
		category    TEXT NOT NULL,
		subcategory TEXT,
		file_ext    TEXT,
		file_size   INTEGER,
		mime        TEXT,
		duration    INTEGER,
		width       INTEGER,
		height      INTEGER,
		keywords    TEXT,
		confidence  REAL NOT NULL,
		extra_json  TEXT,
		PRIMARY KEY (channel_id, message_id)
	);

	CREATE TABLE IF NOT EXISTS topic_assignments (
		message_id   INTEGER NOT NULL,
		channel_id   INTEGER NOT NULL,
		topic_id     INTEGER,
		topic_title  TEXT,
		category     TEXT,
		method       TEXT NOT NULL,
		confidence   REAL NOT NULL,
		fallback_used INTEGER NOT NULL DEFAULT 0,
		created_at   INTEGER NOT NULL,
		PRIMARY KEY (channel_id, message_id)
	);

	CREATE TABLE IF NOT EXISTS organization_stats (
		channel_id             INTEGER NOT NULL,
		date                   TEXT NOT NULL,
		messages_processed     INTEGER NOT NULL DEFAULT 0,
		topics_created         INTEGER NOT NULL DEFAULT 0,
		successful_assignments INTEGER NOT NULL DEFAULT 0,
		failed_assignments     INTEGER NOT NULL DEFAULT 0,
		fallback_used          INTEGER NOT NULL DEFAULT 0,
		categories_json        TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (channel_id, date)
	);

	CREATE TABLE IF NOT EXISTS organization_config (
		channel_id            INTEGER PRIMARY KEY,
		mode                  TEXT NOT NULL,
		topic_strategy        TEXT NOT NULL,
		fallback_strategy     TEXT NOT NULL,
		max_topics            INTEGER NOT NULL,
		cooldown_s            INTEGER NOT NULL,
		enable_classification INTEGER NOT NULL DEFAULT 1,
		confidence_threshold  REAL NOT NULL,
		general_topic_title   TEXT NOT NULL,
		auto_cleanup          INTEGER NOT NULL DEFAULT 0,
		enable_stats          INTEGER NOT NULL DEFAULT 1,
		debug                 INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS file_forward_queue (
		queue_id      INTEGER PRIMARY KEY AUTOINCREMENT,
		schedule_id   INTEGER,
		origin_channel INTEGER NOT NULL,
		message_id    INTEGER NOT NULL,
		file_id       INTEGER,
		destination   INTEGER NOT NULL,
		status        TEXT NOT NULL DEFAULT 'pending',
		enqueued_at   INTEGER NOT NULL,
		attempted_at  INTEGER
	);

	CREATE TABLE IF NOT EXISTS schedule_entries (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		kind        TEXT NOT NULL,
		cron_expr   TEXT NOT NULL,
		params_json TEXT NOT NULL DEFAULT '{}',
		priority    INTEGER NOT NULL DEFAULT 0,
		enabled     INTEGER NOT NULL DEFAULT 1,
		last_run_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS mirror_progress (
		source_channel INTEGER NOT NULL,
		dest_channel   INTEGER NOT NULL,
		last_message_id INTEGER NOT NULL DEFAULT 0,
		status         TEXT NOT NULL DEFAULT 'idle',
		updated_at     INTEGER NOT NULL,
		PRIMARY KEY (source_channel, dest_channel)
	);

	CREATE INDEX IF NOT EXISTS idx_queue_status ON file_forward_queue(status, schedule_id);
	`,
}

func (s *Store) migrate(ctx context.Context) error {
	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		// На свежем файле таблицы schema_version ещё нет — стартуем с нуля.
		current = 0
	}

	for i := current; i < len(migrations); i++ {
		if err := s.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
				return fmt.Errorf("apply migration %d: %w", i+1, err)
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, i+1)
			return err
		}); err != nil {
			return err
		}
	}
	return nil
}
