// Package store — персистентное состояние SPECTRA поверх одного файла SQLite.
// Все обращения идут через типизированные операции; «сырой» SQL наружу не отдаётся.
// WAL-журнал и foreign keys включаются при открытии, миграции накатываются автоматически.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store оборачивает *sql.DB с включённым WAL и foreign keys.
type Store struct {
	db *sql.DB
}

// Open открывает (при необходимости создавая) файл SQLite по пути path,
// включает WAL и foreign keys и накатывает все недостающие миграции.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// CGo-драйвер sqlite3 однописательный: сериализуем весь доступ одним соединением.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close освобождает дескриптор базы данных.
func (s *Store) Close() error {
	return s.db.Close()
}

// WithTx выполняет fn внутри транзакции: commit при успехе, rollback при ошибке или панике.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()
	if err = fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}
