package topics

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/SWORDIntel/spectra/internal/classifier"
	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/infra/clock"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/store"
)

// Strategy — способ выбора заголовка создаваемого топика.
type Strategy string

const (
	StrategyContentType Strategy = "content_type"
	StrategyDateBased   Strategy = "date_based"
	StrategyFileExt     Strategy = "file_extension"
)

type template struct {
	title string
	color int32
}

// defaultContentTypeTemplates — штатные шаблоны топиков по типу контента.
var defaultContentTypeTemplates = map[string]template{
	"photo":     {"📸 Photos", 0x3498db},
	"video":     {"🎬 Videos", 0xe74c3c},
	"document":  {"📄 Documents", 0xf39c12},
	"audio":     {"🎵 Audio", 0x9b59b6},
	"voice":     {"🎤 Voice Messages", 0x1abc9c},
	"sticker":   {"😄 Stickers", 0xf1c40f},
	"animation": {"🎭 GIFs", 0x34495e},
	"contact":   {"👥 Contacts", 0x95a5a6},
	"location":  {"📍 Locations", 0x27ae60},
	"poll":      {"📊 Polls", 0x8e44ad},
	"game":      {"🎮 Games", 0xe67e22},
}

// defaultCreationInterval — минимальная пауза между созданиями топиков в канале.
const defaultCreationInterval = 30 * time.Second

// ForumGateway — поверхность Gateway, нужная менеджеру топиков: листинг и
// создание топиков форумного канала.
type ForumGateway interface {
	ListForumTopics(ctx context.Context, channel int64, offsetTopic int) ([]gateway.TopicRef, int, error)
	CreateForumTopic(ctx context.Context, channel int64, title string, iconColor int32, iconEmojiID int64, randomID int64) (int64, error)
}

// Manager разрешает и создаёт топики в одном канале-назначении. Кеш — единственный
// писатель на канал; менеджеры разных каналов кеш не разделяют.
type Manager struct {
	channelID int64
	strategy  Strategy
	gw        ForumGateway
	st        *store.Store
	cache     *lruCache
	cooldown  time.Duration

	mu             sync.Mutex
	lastCreationAt time.Time
	createdCount   int
}

// New собирает Manager для channelID с кешем на maxSize записей, сроком жизни ttl
// и паузой cooldown между созданиями топиков (<= 0 — штатные 30 секунд).
func New(channelID int64, strategy Strategy, gw ForumGateway, st *store.Store, maxSize int, ttl, cooldown time.Duration) *Manager {
	if cooldown <= 0 {
		cooldown = defaultCreationInterval
	}
	return &Manager{
		channelID: channelID,
		strategy:  strategy,
		gw:        gw,
		st:        st,
		cache:     newLRUCache(maxSize, ttl),
		cooldown:  cooldown,
	}
}

// Initialize перечисляет существующие топики через Gateway и наполняет кеш,
// best-effort: отсутствие прав деградирует мягко, без ошибки.
func (m *Manager) Initialize(ctx context.Context) {
	topics, _, err := m.gw.ListForumTopics(ctx, m.channelID, 0)
	if err != nil {
		logger.Warnf("topics: could not load existing topics for %d (may not be a forum): %v", m.channelID, err)
		return
	}
	for _, t := range topics {
		info := Info{TopicID: t.TopicID, Title: t.Title, IconColor: t.IconColor, IconEmojiID: t.IconEmojiID, MessageCount: t.MessageCount}
		m.cache.put(m.idKey(t.TopicID), info)
		m.cache.put(m.titleKey(t.Title), info)
	}
	logger.Infof("topics: loaded %d existing topics for channel %d", len(topics), m.channelID)
}

func (m *Manager) idKey(topicID int64) string   { return fmt.Sprintf("%d_id_%d", m.channelID, topicID) }
func (m *Manager) titleKey(title string) string { return fmt.Sprintf("%d_%s", m.channelID, title) }

// candidate — намерение создать (или найти) топик для одного сообщения.
type candidate struct {
	title     string
	iconColor int32
	category  string
}

// GetOrCreateTopic разрешает (при необходимости создавая) топик для md, возвращая
// его id и заголовок. (0, "", nil) — топика нет и создать нельзя (нет кандидата
// либо нет прав); вызывающий уходит в fallback.
func (m *Manager) GetOrCreateTopic(ctx context.Context, md classifier.Metadata) (int64, string, error) {
	cand := m.determineTopic(md)
	if cand == nil {
		return 0, "", nil
	}

	if info, ok := m.cache.get(m.titleKey(cand.title)); ok {
		return info.TopicID, info.Title, nil
	}

	// Промах кеша: перечитываем живой список канала — топик с этим заголовком
	// могли создать в обход нас.
	if info, ok := m.lookupByTitle(ctx, cand.title); ok {
		return info.TopicID, info.Title, nil
	}

	topicID, err := m.createTopic(ctx, *cand)
	if topicID == 0 && err == nil {
		return 0, "", nil
	}
	return topicID, cand.title, err
}

// lookupByTitle перечитывает топики канала через Gateway, освежая кеш, и ищет
// точное совпадение заголовка. Если листинг недоступен, кеш best-effort
// прогревается из локальной таблицы; авторитетом она не является.
func (m *Manager) lookupByTitle(ctx context.Context, title string) (Info, bool) {
	topics, _, err := m.gw.ListForumTopics(ctx, m.channelID, 0)
	if err == nil {
		for _, t := range topics {
			info := Info{TopicID: t.TopicID, Title: t.Title, IconColor: t.IconColor, IconEmojiID: t.IconEmojiID, MessageCount: t.MessageCount}
			m.cache.put(m.titleKey(t.Title), info)
			m.cache.put(m.idKey(t.TopicID), info)
		}
		return m.cache.get(m.titleKey(title))
	}

	logger.Warnf("topics: list topics for %d failed, warming cache from local table: %v", m.channelID, err)
	rows, dbErr := m.st.ListTopics(ctx, m.channelID)
	if dbErr != nil {
		return Info{}, false
	}
	for _, row := range rows {
		if !row.IsActive {
			continue
		}
		info := Info{TopicID: row.TopicID, Title: row.Title, IconColor: row.IconColor, Category: row.Category}
		m.cache.put(m.titleKey(row.Title), info)
		m.cache.put(m.idKey(row.TopicID), info)
	}
	return m.cache.get(m.titleKey(title))
}

func (m *Manager) determineTopic(md classifier.Metadata) *candidate {
	switch m.strategy {
	case StrategyContentType:
		if tpl, ok := defaultContentTypeTemplates[md.ContentType]; ok {
			// Категория — собственная категория сообщения: топики разных типов
			// не должны схлопываться в один при поиске по категории.
			category := md.Category
			if category == "" {
				category = md.ContentType
			}
			return &candidate{title: tpl.title, iconColor: tpl.color, category: category}
		}
	case StrategyDateBased:
		today := clock.Now().Format("2006-01-02")
		return &candidate{title: fmt.Sprintf("%s - Daily Archive", today), iconColor: 0x3498db, category: "date_based"}
	case StrategyFileExt:
		if md.FileExt != "" {
			return &candidate{title: fmt.Sprintf("%s Files", md.FileExt), iconColor: 0xf39c12, category: md.FileExt}
		}
	}
	return &candidate{title: fmt.Sprintf("General - %s", clock.Now().Format("2006-01-02")), iconColor: 0x95a5a6, category: "fallback"}
}

// createTopic выдерживает минимальную паузу между созданиями в канале (досыпая
// остаток, а не ошибаясь), затем идёт в Gateway и сохраняет результат.
// FLOOD_WAIT повторяется один раз после сна; второй подряд — (0, nil), сообщение
// уходит в fallback. TopicExists возвращает к поиску по заголовку, AdminRequired
// отдаёт (0, nil) без ошибки: отсутствие прав — тоже путь в fallback.
func (m *Manager) createTopic(ctx context.Context, cand candidate) (int64, error) {
	m.mu.Lock()
	wait := m.cooldown - time.Since(m.lastCreationAt)
	m.mu.Unlock()
	if wait > 0 {
		logger.Infof("topics: rate limiting, waiting %.1fs before creating %q", wait.Seconds(), cand.title)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	topicID, err := m.gw.CreateForumTopic(ctx, m.channelID, cand.title, cand.iconColor, 0, rand.Int64())
	if err != nil {
		var fw *gateway.FloodWaitError
		if errors.As(err, &fw) {
			logger.Warnf("topics: flood wait %ds creating %q, retrying once", fw.Seconds, cand.title)
			select {
			case <-time.After(time.Duration(fw.Seconds+1) * time.Second):
			case <-ctx.Done():
				return 0, ctx.Err()
			}
			topicID, err = m.gw.CreateForumTopic(ctx, m.channelID, cand.title, cand.iconColor, 0, rand.Int64())
			if errors.As(err, &fw) {
				logger.Warnf("topics: second flood wait creating %q, giving up", cand.title)
				return 0, nil
			}
		}
	}
	if err != nil {
		var exists *gateway.TopicExistsError
		if errors.As(err, &exists) {
			// Топик с этим заголовком уже есть: перечитываем список и берём его.
			if info, ok := m.lookupByTitle(ctx, cand.title); ok {
				return info.TopicID, nil
			}
			return 0, fmt.Errorf("topics: %q reported existing but not listed: %w", cand.title, err)
		}
		var admin *gateway.ChatAdminRequiredError
		if errors.As(err, &admin) {
			logger.Warnf("topics: no admin rights to create %q in %d", cand.title, m.channelID)
			return 0, nil
		}
		return 0, err
	}

	now := time.Now()
	info := Info{TopicID: topicID, Title: cand.title, IconColor: cand.iconColor, Category: cand.category, CreatedAt: now, LastActivity: now}
	m.cache.put(m.titleKey(cand.title), info)
	m.cache.put(m.idKey(topicID), info)

	m.mu.Lock()
	m.lastCreationAt = now
	m.createdCount++
	m.mu.Unlock()

	if _, err := m.st.UpsertTopic(ctx, store.ForumTopic{
		ChannelID:      m.channelID,
		TopicID:        topicID,
		Title:          cand.title,
		IconColor:      cand.iconColor,
		Category:       cand.category,
		CreatedAt:      now,
		LastActivityAt: now,
		IsActive:       true,
	}); err != nil {
		logger.Warnf("topics: created topic %d but failed to persist: %v", topicID, err)
	}

	return topicID, nil
}

// EnsureGeneralTopic разрешает или создаёт общий топик канала (fallback general_topic).
func (m *Manager) EnsureGeneralTopic(ctx context.Context, title string) (int64, error) {
	if info, ok := m.cache.get(m.titleKey(title)); ok {
		return info.TopicID, nil
	}
	if info, ok := m.lookupByTitle(ctx, title); ok {
		return info.TopicID, nil
	}
	return m.createTopic(ctx, candidate{title: title, iconColor: 0x95a5a6, category: "general"})
}

// Touch обновляет время активности и счётчик сообщений топика после успешной пересылки.
func (m *Manager) Touch(ctx context.Context, topicID int64) error {
	return m.st.BumpTopicActivity(ctx, m.channelID, topicID, time.Now())
}

// CacheSize — число записей в кеше, для диагностики и тестов.
func (m *Manager) CacheSize() int { return m.cache.size() }

// CleanupEmptyTopics деактивирует топики канала без сообщений, созданные раньше
// чем minAge назад. Возвращает число деактивированных.
func (m *Manager) CleanupEmptyTopics(ctx context.Context, minAge time.Duration) (int, error) {
	rows, err := m.st.ListTopics(ctx, m.channelID)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-minAge)
	cleaned := 0
	for _, row := range rows {
		if !row.IsActive || row.MessageCount > 0 || row.CreatedAt.After(cutoff) {
			continue
		}
		if err := m.st.DeactivateTopic(ctx, m.channelID, row.TopicID); err != nil {
			return cleaned, err
		}
		cleaned++
	}
	return cleaned, nil
}

// CreatedCount — сколько топиков этот менеджер создал за время жизни.
func (m *Manager) CreatedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createdCount
}
