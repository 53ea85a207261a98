package topics_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/SWORDIntel/spectra/internal/classifier"
	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/store"
	"github.com/SWORDIntel/spectra/internal/topics"
)

// fakeForum имитирует форумный канал: хранит топики, по желанию отвечает на
// создание FLOOD_WAIT (первые floodWaits раз) либо фиксированной ошибкой, а
// первые hideFirstN листингов могут «не видеть» содержимое (гонка создания).
type fakeForum struct {
	mu          sync.Mutex
	nextID      int64
	topics      []gateway.TopicRef
	createTimes []time.Time
	floodWaits  int // сколько первых созданий ответят FLOOD_WAIT
	hideFirstN  int // сколько первых листингов вернут пустой список
	createErr   error
	listErr     error
}

func (f *fakeForum) ListForumTopics(_ context.Context, _ int64, _ int) ([]gateway.TopicRef, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, 0, f.listErr
	}
	if f.hideFirstN > 0 {
		f.hideFirstN--
		return nil, 0, nil
	}
	out := make([]gateway.TopicRef, len(f.topics))
	copy(out, f.topics)
	return out, 0, nil
}

func (f *fakeForum) CreateForumTopic(_ context.Context, _ int64, title string, iconColor int32, _ int64, _ int64) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.floodWaits > 0 {
		f.floodWaits--
		return 0, &gateway.FloodWaitError{Seconds: 1}
	}
	if f.createErr != nil {
		return 0, f.createErr
	}
	f.nextID++
	f.topics = append(f.topics, gateway.TopicRef{TopicID: f.nextID, Title: title, IconColor: iconColor})
	f.createTimes = append(f.createTimes, time.Now())
	return f.nextID, nil
}

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "spectra.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func photoMD() classifier.Metadata {
	return classifier.Metadata{ContentType: "photo", Category: "photos", Confidence: 1.0}
}

func TestGetOrCreateTopicCreatesAndCaches(t *testing.T) {
	t.Parallel()

	forum := &fakeForum{}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)
	ctx := context.Background()

	id, title, err := m.GetOrCreateTopic(ctx, photoMD())
	require.NoError(t, err)
	require.NotZero(t, id)
	require.Equal(t, "📸 Photos", title)

	// Повторный запрос того же типа — кеш, без второго создания.
	again, _, err := m.GetOrCreateTopic(ctx, photoMD())
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Len(t, forum.topics, 1)
	require.Equal(t, 1, m.CreatedCount())
}

func TestInitializePrefillsCacheFromGateway(t *testing.T) {
	t.Parallel()

	forum := &fakeForum{
		nextID: 1,
		topics: []gateway.TopicRef{{TopicID: 1, Title: "📸 Photos", IconColor: 1}},
	}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)
	ctx := context.Background()
	m.Initialize(ctx)

	id, _, err := m.GetOrCreateTopic(ctx, photoMD())
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.Equal(t, 0, m.CreatedCount(), "существующий топик не создаётся заново")
}

func TestInitializeDegradesGracefully(t *testing.T) {
	t.Parallel()

	forum := &fakeForum{listErr: errors.New("not a forum")}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)
	m.Initialize(context.Background()) // не должен паниковать или ронять процесс
	require.Zero(t, m.CacheSize())
}

func TestCreationRateLimitSeparatesCreations(t *testing.T) {
	t.Parallel()

	cooldown := 1500 * time.Millisecond
	forum := &fakeForum{}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, cooldown)
	ctx := context.Background()

	_, _, err := m.GetOrCreateTopic(ctx, photoMD())
	require.NoError(t, err)
	_, _, err = m.GetOrCreateTopic(ctx, classifier.Metadata{ContentType: "video", Category: "videos", Confidence: 1.0})
	require.NoError(t, err)

	require.Len(t, forum.createTimes, 2)
	gap := forum.createTimes[1].Sub(forum.createTimes[0])
	require.GreaterOrEqual(t, gap, cooldown-time.Second, "создания обязаны разделяться паузой cooldown (допуск 1с)")
}

func TestFloodWaitRetriedOnce(t *testing.T) {
	t.Parallel()

	forum := &fakeForum{floodWaits: 1}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	id, _, err := m.GetOrCreateTopic(ctx, photoMD())
	require.NoError(t, err)
	require.NotZero(t, id)
	require.GreaterOrEqual(t, time.Since(start), time.Second, "повтор после FLOOD_WAIT(1) должен подождать не меньше секунды")
}

func TestSecondFloodWaitFallsBack(t *testing.T) {
	t.Parallel()

	// Два FLOOD_WAIT подряд: без ошибки, но и без топика — сообщение уходит в fallback.
	forum := &fakeForum{floodWaits: 2}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)

	id, title, err := m.GetOrCreateTopic(context.Background(), photoMD())
	require.NoError(t, err)
	require.Zero(t, id)
	require.Empty(t, title)
}

func TestAdminRequiredFallsBackWithoutError(t *testing.T) {
	t.Parallel()

	forum := &fakeForum{createErr: &gateway.ChatAdminRequiredError{ChannelID: 5}}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)

	id, _, err := m.GetOrCreateTopic(context.Background(), photoMD())
	require.NoError(t, err)
	require.Zero(t, id)
	require.Equal(t, 0, m.CreatedCount())
}

func TestTopicExistsResolvesByRelisting(t *testing.T) {
	t.Parallel()

	// Гонка создания: первый листинг топика ещё не видит, создание отвечает
	// «уже существует», повторный листинг из createTopic находит его по заголовку.
	forum := &fakeForum{
		createErr:  &gateway.TopicExistsError{ChannelID: 5, Title: "📸 Photos"},
		hideFirstN: 1,
		topics:     []gateway.TopicRef{{TopicID: 77, Title: "📸 Photos"}},
	}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)

	id, title, err := m.GetOrCreateTopic(context.Background(), photoMD())
	require.NoError(t, err)
	require.EqualValues(t, 77, id)
	require.Equal(t, "📸 Photos", title)
}

func TestExternallyCreatedTopicFoundByLiveListing(t *testing.T) {
	t.Parallel()

	// Кеш пуст, Initialize не вызывался: топик находится живым листингом канала.
	forum := &fakeForum{
		nextID: 1,
		topics: []gateway.TopicRef{{TopicID: 1, Title: "📸 Photos"}},
	}
	m := topics.New(5, topics.StrategyContentType, forum, openStore(t), 16, time.Minute, time.Millisecond)

	id, _, err := m.GetOrCreateTopic(context.Background(), photoMD())
	require.NoError(t, err)
	require.EqualValues(t, 1, id)
	require.Equal(t, 0, m.CreatedCount())
}

func TestEnsureGeneralTopic(t *testing.T) {
	t.Parallel()

	forum := &fakeForum{}
	st := openStore(t)
	m := topics.New(5, topics.StrategyContentType, forum, st, 16, time.Minute, time.Millisecond)
	ctx := context.Background()

	id, err := m.EnsureGeneralTopic(ctx, "General Discussion")
	require.NoError(t, err)
	require.NotZero(t, id)

	again, err := m.EnsureGeneralTopic(ctx, "General Discussion")
	require.NoError(t, err)
	require.Equal(t, id, again)
	require.Len(t, forum.topics, 1)

	// Созданный топик персистится и находится по категории.
	row, err := st.FindTopic(ctx, 5, "general")
	require.NoError(t, err)
	require.Equal(t, "General Discussion", row.Title)
}

func TestDateBasedStrategyUsesCurrentDate(t *testing.T) {
	t.Parallel()

	forum := &fakeForum{}
	m := topics.New(5, topics.StrategyDateBased, forum, openStore(t), 16, time.Minute, time.Millisecond)

	_, title, err := m.GetOrCreateTopic(context.Background(), photoMD())
	require.NoError(t, err)
	require.Contains(t, title, "Daily Archive")
}
