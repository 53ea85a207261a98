// Package dedup — дедупликация пересылаемого контента по sha256. Двухуровневый поиск:
// in-memory множество, засеянное из базы при старте, плюс персистентная таблица file_hashes.
// Атомарная единица — группа сообщений целиком: один известный хеш делает дубликатом всю
// группу, чтобы многотомные архивы не доставлялись частично.
package dedup

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/grouper"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/store"

	"github.com/gotd/td/tg"
)

const hashChunkSize = 8 * 1024

// MediaDownloader — минимальная поверхность Gateway, нужная дедупликатору:
// скачивание содержимого файла во временный путь.
type MediaDownloader interface {
	DownloadMedia(ctx context.Context, loc tg.InputFileLocationClass, toPath string) (int64, error)
}

// fileLocator сводит gateway.Message к минимуму, нужному hashOne для скачивания файла.
type fileLocator interface {
	fileInfo() *gateway.FileInfo
	inputLocation() tg.InputFileLocationClass
}

type messageLocator struct {
	msg gateway.Message
}

func (m messageLocator) fileInfo() *gateway.FileInfo { return m.msg.File }
func (m messageLocator) inputLocation() tg.InputFileLocationClass {
	return m.msg.File.InputLocation()
}

// Deduplicator помнит, какое содержимое файлов уже пересылалось.
type Deduplicator struct {
	st         *store.Store
	scratchDir string

	mu   sync.RWMutex
	seen map[string]struct{}
}

// New засевает in-memory множество из таблицы file_hashes.
func New(ctx context.Context, st *store.Store, scratchDir string) (*Deduplicator, error) {
	d := &Deduplicator{st: st, scratchDir: scratchDir, seen: make(map[string]struct{})}
	if err := st.SeedHashes(ctx, func(sha string) error {
		d.seen[sha] = struct{}{}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("dedup: seed hashes: %w", err)
	}
	return d, nil
}

func (d *Deduplicator) knownLocally(sha string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.seen[sha]
	return ok
}

func (d *Deduplicator) remember(sha string) {
	d.mu.Lock()
	d.seen[sha] = struct{}{}
	d.mu.Unlock()
}

// hashOne скачивает файл сообщения во временный каталог и возвращает sha256 в hex,
// считая хеш потоково блоками по 8 КиБ. ok=false — у сообщения нет файла, скачивание
// не удалось или скачан пустой файл; такие пропускаются и дубликатами не считаются.
func (d *Deduplicator) hashOne(ctx context.Context, gw MediaDownloader, loc fileLocator) (sha string, ok bool) {
	fi := loc.fileInfo()
	if fi == nil {
		return "", false
	}

	path := filepath.Join(d.scratchDir, fmt.Sprintf("dedup-%d-%d", fi.ID, time.Now().UnixNano()))
	defer os.Remove(path)

	n, err := gw.DownloadMedia(ctx, loc.inputLocation(), path)
	if err != nil {
		logger.Warnf("dedup: download failed for file %d: %v", fi.ID, err)
		return "", false
	}
	if n == 0 {
		logger.Warnf("dedup: empty download for file %d, skipping", fi.ID)
		return "", false
	}

	f, err := os.Open(path)
	if err != nil {
		logger.Warnf("dedup: reopen scratch file for %d: %v", fi.ID, err)
		return "", false
	}
	defer f.Close()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		logger.Warnf("dedup: hash failed for file %d: %v", fi.ID, err)
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// IsDuplicate возвращает true, если хоть одно файловое сообщение группы совпало с
// известным хешем. Побочных эффектов в базе не оставляет: писать туда может только
// RecordForwarded.
func (d *Deduplicator) IsDuplicate(ctx context.Context, group grouper.Group, gw MediaDownloader) (bool, error) {
	for _, msg := range group.Messages {
		sha, ok := d.hashOne(ctx, gw, messageLocator{msg})
		if !ok {
			continue
		}
		if d.knownLocally(sha) {
			return true, nil
		}
		exists, err := d.st.HashExists(ctx, sha)
		if err != nil {
			return false, fmt.Errorf("dedup: check persistent hash: %w", err)
		}
		if exists {
			d.remember(sha)
			return true, nil
		}
	}
	return false, nil
}

// RecordForwarded заново хеширует каждое файловое сообщение группы (scratch-копии
// IsDuplicate не сохраняются) и вставляет строки file_hashes/channel_file_inventory,
// пополняя in-memory множество. Инвентарь ключуется каналом-источником: строка
// доказывает, что файл из этого канала уже пересылался. Вызывается только после
// подтверждённой доставки; в множество хеш попадает после успешной вставки в базу.
func (d *Deduplicator) RecordForwarded(ctx context.Context, group grouper.Group, originID int64, topicID *int64, gw MediaDownloader) error {
	for _, msg := range group.Messages {
		loc := messageLocator{msg}
		fi := loc.fileInfo()
		if fi == nil {
			continue
		}
		sha, ok := d.hashOne(ctx, gw, loc)
		if !ok {
			continue
		}

		fileID, err := d.st.UpsertHash(ctx, store.FileHash{SHA256: sha, FirstSeenAt: time.Now()})
		if err != nil {
			return fmt.Errorf("dedup: upsert hash for message %d: %w", msg.ID, err)
		}
		if err := d.st.RecordInventory(ctx, store.InventoryRow{
			ChannelID:   originID,
			MessageID:   msg.ID,
			FileID:      fileID,
			TopicID:     topicID,
			ForwardedAt: time.Now(),
		}); err != nil {
			return fmt.Errorf("dedup: record inventory for message %d: %w", msg.ID, err)
		}
		d.remember(sha)
	}
	return nil
}
