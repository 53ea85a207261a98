// Package storage — безопасная работа с локальными файлами: гарантия каталога
// и атомарная запись. Используется для MTProto-сессий, снапшота планировщика и
// прочих данных, где частично записанный файл недопустим.
package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/SWORDIntel/spectra/internal/infra/logger"
)

// finalFilePerm — права итогового файла: только владелец процесса.
const finalFilePerm = 0o600

// EnsureDir гарантирует наличие каталога для указанного файла (права 0700).
// Путь без каталога ("." или пустой) — no-op.
func EnsureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create dir %s: %w", dir, err)
	}
	return nil
}

// AtomicWriteFile атомарно записывает данные в path: temp-файл в том же
// каталоге → write → fsync → chmod → rename → fsync каталога. Либо старый файл
// остаётся цел, либо новый записан полностью. os.Rename атомарен только в
// пределах одного файлового тома; fsync каталога — best-effort, часть ОС/ФС
// его игнорирует.
func AtomicWriteFile(path string, data []byte) error {
	clean := filepath.Clean(path)
	if err := EnsureDir(clean); err != nil {
		return err
	}
	dir := filepath.Dir(clean)

	tmp, err := os.CreateTemp(dir, "atomic-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("fsync temp file: %w", err)
	}
	if err := tmp.Chmod(finalFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, clean); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}

	if dirFile, err := os.Open(dir); err == nil {
		if errSync := dirFile.Sync(); errSync != nil {
			logger.Warnf("AtomicWriteFile: dir sync error: %v", errSync)
		}
		_ = dirFile.Close()
	}
	return nil
}
