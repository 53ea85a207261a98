package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// UpsertAccount вставляет или обновляет строку аккаунта по session_id.
func (s *Store) UpsertAccount(ctx context.Context, a Account) error {
	var cooldown any
	if a.CooldownUntil != nil {
		cooldown = a.CooldownUntil.Unix()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO accounts (session_id, api_id, api_hash, phone, status, cooldown_until, usage_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			api_id=excluded.api_id, api_hash=excluded.api_hash, phone=excluded.phone,
			status=excluded.status, cooldown_until=excluded.cooldown_until,
			usage_count=excluded.usage_count, last_error=excluded.last_error
	`, a.SessionID, a.APIID, a.APIHash, a.Phone, string(a.Status), cooldown, a.UsageCount, a.LastError)
	if err != nil {
		return fmt.Errorf("store: upsert account %s: %w", a.SessionID, err)
	}
	return nil
}

// GetAccount возвращает аккаунт по идентификатору сессии.
func (s *Store) GetAccount(ctx context.Context, sessionID string) (Account, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, api_id, api_hash, phone, status, cooldown_until, usage_count, last_error
		FROM accounts WHERE session_id = ?
	`, sessionID)
	return scanAccount(row)
}

// ListAccounts возвращает все строки аккаунтов без определённого порядка.
func (s *Store) ListAccounts(ctx context.Context) ([]Account, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, api_id, api_hash, phone, status, cooldown_until, usage_count, last_error
		FROM accounts
	`)
	if err != nil {
		return nil, fmt.Errorf("store: list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAccount(r rowScanner) (Account, error) {
	var a Account
	var status string
	var cooldown sql.NullInt64
	if err := r.Scan(&a.SessionID, &a.APIID, &a.APIHash, &a.Phone, &status, &cooldown, &a.UsageCount, &a.LastError); err != nil {
		return Account{}, fmt.Errorf("store: scan account: %w", err)
	}
	a.Status = AccountStatus(status)
	if cooldown.Valid {
		t := time.Unix(cooldown.Int64, 0).UTC()
		a.CooldownUntil = &t
	}
	return a, nil
}

// SetAccountCooldown переводит аккаунт в cooldown до указанного времени, запоминая вызвавшую ошибку.
func (s *Store) SetAccountCooldown(ctx context.Context, sessionID string, until time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, cooldown_until = ?, last_error = ? WHERE session_id = ?
	`, string(AccountCooldown), until.Unix(), lastErr, sessionID)
	if err != nil {
		return fmt.Errorf("store: set cooldown for %s: %w", sessionID, err)
	}
	return nil
}

// SetAccountBanned помечает аккаунт забаненным до явного включения оператором.
func (s *Store) SetAccountBanned(ctx context.Context, sessionID string, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET status = ?, last_error = ? WHERE session_id = ?
	`, string(AccountBanned), reason, sessionID)
	if err != nil {
		return fmt.Errorf("store: ban account %s: %w", sessionID, err)
	}
	return nil
}

// IncrementUsage увеличивает счётчик использования аккаунта и возвращает его
// в active, если cooldown уже истёк.
func (s *Store) IncrementUsage(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET usage_count = usage_count + 1,
			status = CASE WHEN status = 'cooldown' AND cooldown_until <= ? THEN 'active' ELSE status END
		WHERE session_id = ?
	`, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("store: increment usage for %s: %w", sessionID, err)
	}
	return nil
}

// ResetAccountUsage обнуляет счётчик использования и снимает cooldown
// (команда `accounts reset`).
func (s *Store) ResetAccountUsage(ctx context.Context, sessionID string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE accounts SET usage_count = 0, status = 'active', cooldown_until = NULL, last_error = ''
		WHERE session_id = ?
	`, sessionID)
	if err != nil {
		return fmt.Errorf("store: reset usage for %s: %w", sessionID, err)
	}
	return nil
}

// UpsertChannelAccess фиксирует, что аккаунт читает канал.
func (s *Store) UpsertChannelAccess(ctx context.Context, a ChannelAccess) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO channel_access (account_id, channel_id, channel_title, last_seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account_id, channel_id) DO UPDATE SET
			channel_title=excluded.channel_title, last_seen_at=excluded.last_seen_at
	`, a.AccountID, a.ChannelID, a.ChannelTitle, a.LastSeenAt.Unix())
	if err != nil {
		return fmt.Errorf("store: upsert channel access: %w", err)
	}
	return nil
}

// EnumerateChannelAccess отдаёт fn все пары (аккаунт, канал) по одной; ошибка fn
// прерывает обход. Основной источник каналов для режима полной пересылки.
func (s *Store) EnumerateChannelAccess(ctx context.Context, fn func(ChannelAccess) error) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT account_id, channel_id, channel_title, last_seen_at FROM channel_access
	`)
	if err != nil {
		return fmt.Errorf("store: enumerate channel access: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var a ChannelAccess
		var seen int64
		if err := rows.Scan(&a.AccountID, &a.ChannelID, &a.ChannelTitle, &seen); err != nil {
			return fmt.Errorf("store: scan channel access: %w", err)
		}
		a.LastSeenAt = time.Unix(seen, 0).UTC()
		if err := fn(a); err != nil {
			return err
		}
	}
	return rows.Err()
}
