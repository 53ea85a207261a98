package dedup_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/spectra/internal/dedup"
	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/grouper"
	"github.com/SWORDIntel/spectra/internal/store"

	"github.com/gotd/td/tg"
)

// fakeDownloader отдаёт содержимое по id файла; id из failIDs «не скачиваются».
type fakeDownloader struct {
	content map[int64][]byte
	failIDs map[int64]bool
	calls   int
}

func (f *fakeDownloader) DownloadMedia(_ context.Context, loc tg.InputFileLocationClass, toPath string) (int64, error) {
	f.calls++
	docLoc, ok := loc.(*tg.InputDocumentFileLocation)
	if !ok {
		return 0, errors.New("unexpected location type")
	}
	if f.failIDs[docLoc.ID] {
		return 0, errors.New("download failed")
	}
	data, ok := f.content[docLoc.ID]
	if !ok {
		return 0, errors.New("unknown file id")
	}
	if err := os.WriteFile(toPath, data, 0o600); err != nil {
		return 0, err
	}
	return int64(len(data)), nil
}

func newDedup(t *testing.T) (*dedup.Deduplicator, *store.Store) {
	t.Helper()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "spectra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	dd, err := dedup.New(context.Background(), st, dir)
	require.NoError(t, err)
	return dd, st
}

func groupOf(ids ...int64) grouper.Group {
	g := grouper.Group{}
	for _, id := range ids {
		g.Messages = append(g.Messages, gateway.Message{
			ID:       id,
			SenderID: 1,
			Date:     time.Unix(1700000000+id, 0).UTC(),
			File:     &gateway.FileInfo{ID: id, Name: "f.bin", Size: 8},
		})
	}
	return g
}

func TestIsDuplicateIsIdempotentAndSideEffectFree(t *testing.T) {
	t.Parallel()

	dd, st := newDedup(t)
	gw := &fakeDownloader{content: map[int64][]byte{1: []byte("payload-one")}}
	ctx := context.Background()
	g := groupOf(1)

	for range 3 {
		dup, err := dd.IsDuplicate(ctx, g, gw)
		require.NoError(t, err)
		require.False(t, dup)
	}

	// Проверка дубликатов ничего не пишет в хранилище.
	count := 0
	require.NoError(t, st.SeedHashes(ctx, func(string) error { count++; return nil }))
	require.Zero(t, count)
}

func TestRecordForwardedMakesGroupDuplicateForever(t *testing.T) {
	t.Parallel()

	dd, _ := newDedup(t)
	gw := &fakeDownloader{content: map[int64][]byte{1: []byte("payload-one")}}
	ctx := context.Background()
	g := groupOf(1)

	require.NoError(t, dd.RecordForwarded(ctx, g, 10, nil, gw))

	for range 3 {
		dup, err := dd.IsDuplicate(ctx, g, gw)
		require.NoError(t, err)
		require.True(t, dup)
	}
}

func TestRecordSurvivesRestartThroughStore(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "spectra.db")
	ctx := context.Background()
	gw := &fakeDownloader{content: map[int64][]byte{1: []byte("stable-content")}}
	g := groupOf(1)

	st, err := store.Open(ctx, dbPath)
	require.NoError(t, err)
	dd, err := dedup.New(ctx, st, dir)
	require.NoError(t, err)
	require.NoError(t, dd.RecordForwarded(ctx, g, 10, nil, gw))
	require.NoError(t, st.Close())

	// Новый процесс: in-memory множество засевается из таблицы.
	st, err = store.Open(ctx, dbPath)
	require.NoError(t, err)
	defer st.Close()
	dd, err = dedup.New(ctx, st, dir)
	require.NoError(t, err)

	dup, err := dd.IsDuplicate(ctx, g, gw)
	require.NoError(t, err)
	require.True(t, dup)
}

func TestGroupIsAtomicDedupeUnit(t *testing.T) {
	t.Parallel()

	dd, _ := newDedup(t)
	ctx := context.Background()
	gw := &fakeDownloader{content: map[int64][]byte{
		1: []byte("known"),
		2: []byte("fresh"),
	}}

	// Сначала первый файл становится известным.
	require.NoError(t, dd.RecordForwarded(ctx, groupOf(1), 10, nil, gw))

	// Группа с одним известным участником целиком считается дубликатом.
	dup, err := dd.IsDuplicate(ctx, groupOf(1, 2), gw)
	require.NoError(t, err)
	require.True(t, dup)
}

func TestFailedDownloadIsNotADuplicateVerdict(t *testing.T) {
	t.Parallel()

	dd, _ := newDedup(t)
	ctx := context.Background()
	gw := &fakeDownloader{
		content: map[int64][]byte{2: []byte("ok")},
		failIDs: map[int64]bool{1: true},
	}

	// Файл 1 не скачался: он пропускается и не влияет на вердикт.
	dup, err := dd.IsDuplicate(ctx, groupOf(1, 2), gw)
	require.NoError(t, err)
	require.False(t, dup)
}

func TestSameContentDifferentMessagesIsDuplicate(t *testing.T) {
	t.Parallel()

	dd, _ := newDedup(t)
	ctx := context.Background()
	// Разные id файлов, одно содержимое: авторитет — только sha256.
	gw := &fakeDownloader{content: map[int64][]byte{
		1: []byte("identical-bytes"),
		2: []byte("identical-bytes"),
	}}

	require.NoError(t, dd.RecordForwarded(ctx, groupOf(1), 10, nil, gw))

	dup, err := dd.IsDuplicate(ctx, groupOf(2), gw)
	require.NoError(t, err)
	require.True(t, dup)
}
