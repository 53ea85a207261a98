package organize_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/spectra/internal/classifier"
	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/organize"
	"github.com/SWORDIntel/spectra/internal/store"
	"github.com/SWORDIntel/spectra/internal/topics"
)

type fakeForum struct {
	mu     sync.Mutex
	nextID int64
	byID   map[int64]string
}

func (f *fakeForum) ListForumTopics(_ context.Context, _ int64, _ int) ([]gateway.TopicRef, int, error) {
	return nil, 0, nil
}

func (f *fakeForum) CreateForumTopic(_ context.Context, _ int64, title string, _ int32, _ int64, _ int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.byID == nil {
		f.byID = map[int64]string{}
	}
	f.nextID++
	f.byID[f.nextID] = title
	return f.nextID, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "spectra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func photoMsg(id int64) gateway.Message {
	return gateway.Message{ID: id, SenderID: 1, Date: time.Unix(1700000000, 0).UTC(), Media: &gateway.MediaInfo{Kind: "photo"}}
}

func newEngine(t *testing.T, st *store.Store, cfg organize.Config, withManager bool) *organize.Engine {
	t.Helper()
	var mgr *topics.Manager
	if withManager {
		mgr = topics.New(5, cfg.TopicStrategy, &fakeForum{}, st, 16, time.Minute, time.Millisecond)
	}
	return organize.New(5, cfg, st, classifier.New(), mgr)
}

func TestDisabledModeSucceedsWithoutTopic(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	e := newEngine(t, st, organize.Config{Mode: organize.ModeDisabled}, false)

	res := e.OrganizeMessage(context.Background(), photoMsg(1))
	require.True(t, res.Success)
	require.Zero(t, res.TopicID)
}

func TestAutoCreateRoutesPhotoToPhotosTopic(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	cfg := organize.Config{
		Mode:                  organize.ModeAutoCreate,
		TopicStrategy:         topics.StrategyContentType,
		Fallback:              organize.FallbackNoTopic,
		EnableContentAnalysis: true,
		GeneralTopicTitle:     "General Discussion",
	}
	e := newEngine(t, st, cfg, true)
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx))

	res := e.OrganizeMessage(ctx, photoMsg(1))
	require.True(t, res.Success)
	require.NotZero(t, res.TopicID)
	require.Equal(t, "📸 Photos", res.TopicTitle)
	require.False(t, res.FallbackUsed)
	require.Equal(t, "photos", res.Category)

	// Второе фото переиспользует созданный топик.
	again := e.OrganizeMessage(ctx, photoMsg(2))
	require.True(t, again.Success)
	require.Equal(t, res.TopicID, again.TopicID)
	require.Equal(t, 1, e.TopicsCreated())

	day := time.Now().UTC().Format("2006-01-02")
	stats, err := st.GetStats(ctx, 5, day)
	require.NoError(t, err)
	require.Equal(t, 2, stats.MessagesProcessed)
	require.Equal(t, 2, stats.SuccessfulAssignments)
}

func TestExistingOnlyFallsBackToGeneralTopic(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	cfg := organize.Config{
		Mode:                  organize.ModeExistingOnly,
		TopicStrategy:         topics.StrategyContentType,
		Fallback:              organize.FallbackGeneralTopic,
		EnableContentAnalysis: true,
		GeneralTopicTitle:     "General Discussion",
	}
	e := newEngine(t, st, cfg, true)
	ctx := context.Background()
	require.NoError(t, e.Initialize(ctx))

	res := e.OrganizeMessage(ctx, photoMsg(1))
	require.True(t, res.Success)
	require.NotZero(t, res.TopicID)
	require.True(t, res.FallbackUsed)
	require.Equal(t, "General Discussion", res.TopicTitle)
}

func TestExistingOnlyUsesSeededTopic(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	ctx := context.Background()
	now := time.Now()
	_, err := st.UpsertTopic(ctx, store.ForumTopic{
		ChannelID: 5, TopicID: 77, Title: "📸 Photos", Category: "photos",
		CreatedAt: now, LastActivityAt: now, IsActive: true,
	})
	require.NoError(t, err)

	cfg := organize.Config{
		Mode:                  organize.ModeExistingOnly,
		Fallback:              organize.FallbackNoTopic,
		EnableContentAnalysis: true,
	}
	e := newEngine(t, st, cfg, false)

	res := e.OrganizeMessage(ctx, photoMsg(1))
	require.True(t, res.Success)
	require.EqualValues(t, 77, res.TopicID)
	require.False(t, res.FallbackUsed)
}

func TestNoTopicFallback(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	cfg := organize.Config{
		Mode:                  organize.ModeExistingOnly,
		Fallback:              organize.FallbackNoTopic,
		EnableContentAnalysis: true,
	}
	e := newEngine(t, st, cfg, false)

	res := e.OrganizeMessage(context.Background(), photoMsg(1))
	require.True(t, res.Success)
	require.Zero(t, res.TopicID)
	require.True(t, res.FallbackUsed)
}

func TestQueueForRetryAndDrain(t *testing.T) {
	t.Parallel()

	st := openStore(t)
	cfg := organize.Config{
		Mode:                  organize.ModeExistingOnly,
		Fallback:              organize.FallbackQueueForRetry,
		EnableContentAnalysis: true,
	}
	e := newEngine(t, st, cfg, false)
	ctx := context.Background()

	res := e.OrganizeMessage(ctx, photoMsg(1))
	require.False(t, res.Success)
	require.Equal(t, 1, e.RetryQueueSize())

	// Появился подходящий топик: повтор из очереди должен пристроить сообщение.
	now := time.Now()
	_, err := st.UpsertTopic(ctx, store.ForumTopic{
		ChannelID: 5, TopicID: 88, Title: "📸 Photos", Category: "photos",
		CreatedAt: now, LastActivityAt: now, IsActive: true,
	})
	require.NoError(t, err)

	processed := e.ProcessRetryQueue(ctx)
	require.Equal(t, 1, processed)
	require.Zero(t, e.RetryQueueSize())
}
