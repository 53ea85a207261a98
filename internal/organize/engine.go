// Package organize — движок организации: решает, в какой топик уходит
// классифицированное сообщение. Режим (disabled/auto_create/existing_only/hybrid)
// определяет основной путь, fallback-стратегия (general_topic/no_topic/retry_once/
// queue_for_retry) — запасной; попутно копится дневная статистика.
package organize

import (
	"context"
	"fmt"
	"time"

	"github.com/SWORDIntel/spectra/internal/classifier"
	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/infra/clock"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/store"
	"github.com/SWORDIntel/spectra/internal/topics"
)

// Mode — режим организации топиков для канала-назначения.
type Mode string

const (
	ModeDisabled     Mode = "disabled"
	ModeAutoCreate   Mode = "auto_create"
	ModeExistingOnly Mode = "existing_only"
	ModeHybrid       Mode = "hybrid"
)

// FallbackStrategy — поведение, когда подходящий топик не найден и не создан.
type FallbackStrategy string

const (
	FallbackGeneralTopic  FallbackStrategy = "general_topic"
	FallbackNoTopic       FallbackStrategy = "no_topic"
	FallbackRetryOnce     FallbackStrategy = "retry_once"
	FallbackQueueForRetry FallbackStrategy = "queue_for_retry"
)

// maxRetryQueue ограничивает in-memory очередь повторов. При переполнении
// выбрасывается самая старая запись: канал в перманентном сбое не раздует память.
const maxRetryQueue = 10000

// Config — рантайм-настройки движка для одного канала-назначения.
type Config struct {
	Mode                  Mode
	TopicStrategy         topics.Strategy
	Fallback              FallbackStrategy
	ConfidenceThreshold   float64
	GeneralTopicTitle     string
	EnableContentAnalysis bool
	CreationCooldown      time.Duration
}

// Result — итог организации одного сообщения.
type Result struct {
	Success      bool
	TopicID      int64
	TopicTitle   string
	Category     string
	FallbackUsed bool
	Err          error
	Metadata     classifier.Metadata
}

type retryItem struct {
	msg gateway.Message
	md  classifier.Metadata
}

// Engine связывает классификатор и менеджер топиков для одного канала-назначения.
type Engine struct {
	channelID int64
	cfg       Config
	st        *store.Store
	classify  *classifier.Classifier
	topicMgr  *topics.Manager

	generalTopicID int64

	retryQueue []retryItem
}

// New собирает Engine для channelID. topicMgr может быть nil в режимах ModeDisabled
// и ModeExistingOnly — создание топиков там не предпринимается.
func New(channelID int64, cfg Config, st *store.Store, classify *classifier.Classifier, topicMgr *topics.Manager) *Engine {
	return &Engine{channelID: channelID, cfg: cfg, st: st, classify: classify, topicMgr: topicMgr}
}

// Initialize готовит движок: прогревает кеш топиков и, если того требует
// fallback-стратегия, заранее обеспечивает общий топик.
func (e *Engine) Initialize(ctx context.Context) error {
	if e.cfg.Mode == ModeDisabled {
		return nil
	}
	if e.topicMgr != nil {
		e.topicMgr.Initialize(ctx)
	}
	if e.cfg.Fallback == FallbackGeneralTopic {
		if err := e.ensureGeneralTopic(ctx); err != nil {
			logger.Warnf("organize: channel %d: could not ensure general topic: %v", e.channelID, err)
		}
	}
	return nil
}

// OrganizeMessage классифицирует msg (если классификатор настроен) и разрешает его
// привязку к топику, попутно накапливая статистику за сегодняшнюю дату.
func (e *Engine) OrganizeMessage(ctx context.Context, msg gateway.Message) Result {
	date := clock.Now().Format("2006-01-02")
	delta := store.StatsDelta{MessagesProcessed: 1, CategoryDelta: map[string]int{}}
	defer func() {
		_ = e.st.AccumulateStats(ctx, e.channelID, date, delta)
	}()

	if e.cfg.Mode == ModeDisabled {
		return Result{Success: true, FallbackUsed: true}
	}

	md := e.classifyMessage(msg)
	delta.CategoryDelta[md.Category]++
	if md.Confidence < e.cfg.ConfidenceThreshold {
		logger.Warnf("organize: low classification confidence (%.2f) for message %d", md.Confidence, msg.ID)
	}

	topicID, title, err := e.determineTopic(ctx, msg, md)
	if err != nil {
		delta.FailedAssignments++
		return Result{Success: false, Err: err, Metadata: md}
	}
	if topicID != 0 {
		delta.SuccessfulAssignments++
		return Result{Success: true, TopicID: topicID, TopicTitle: title, Category: md.Category, Metadata: md}
	}

	delta.FallbackUsed++
	return e.applyFallback(ctx, msg, md)
}

func (e *Engine) classifyMessage(msg gateway.Message) classifier.Metadata {
	if e.classify == nil || !e.cfg.EnableContentAnalysis {
		return classifier.Metadata{Category: "general", Confidence: 1.0}
	}
	return e.classify.Classify(msg)
}

// determineTopic выбирает топик согласно режиму организации.
func (e *Engine) determineTopic(ctx context.Context, msg gateway.Message, md classifier.Metadata) (int64, string, error) {
	switch e.cfg.Mode {
	case ModeExistingOnly:
		id, title := e.findExistingTopic(ctx, md)
		return id, title, nil

	case ModeAutoCreate, ModeHybrid:
		if e.topicMgr == nil {
			return 0, "", fmt.Errorf("organize: topic manager not initialized for %s mode", e.cfg.Mode)
		}
		topicID, title, err := e.topicMgr.GetOrCreateTopic(ctx, md)
		if err == nil && topicID != 0 {
			return topicID, title, nil
		}
		if e.cfg.Mode == ModeHybrid {
			id, t := e.findExistingTopic(ctx, md)
			return id, t, nil
		}
		return 0, "", err
	}
	return 0, "", nil
}

func (e *Engine) findExistingTopic(ctx context.Context, md classifier.Metadata) (int64, string) {
	row, err := e.st.FindTopic(ctx, e.channelID, md.Category)
	if err != nil {
		return 0, ""
	}
	return row.TopicID, row.Title
}

// applyFallback применяет запасную стратегию, когда основной путь не дал топика.
func (e *Engine) applyFallback(ctx context.Context, msg gateway.Message, md classifier.Metadata) Result {
	switch e.cfg.Fallback {
	case FallbackGeneralTopic:
		if e.generalTopicID == 0 {
			if err := e.ensureGeneralTopic(ctx); err != nil {
				return Result{Success: false, Err: err, Metadata: md}
			}
		}
		return Result{Success: true, TopicID: e.generalTopicID, TopicTitle: e.cfg.GeneralTopicTitle, Category: md.Category, FallbackUsed: true, Metadata: md}

	case FallbackNoTopic:
		return Result{Success: true, FallbackUsed: true, Category: md.Category, Metadata: md}

	case FallbackRetryOnce:
		topicID, title, err := e.determineTopic(ctx, msg, md)
		if err == nil && topicID != 0 {
			return Result{Success: true, TopicID: topicID, TopicTitle: title, Category: md.Category, Metadata: md}
		}
		return Result{Success: false, Err: fmt.Errorf("organize: retry failed"), Metadata: md}

	case FallbackQueueForRetry:
		e.enqueueRetry(msg, md)
		return Result{Success: false, Err: fmt.Errorf("organize: queued for retry"), Metadata: md}
	}
	return Result{Success: false, Err: fmt.Errorf("organize: no fallback strategy matched"), Metadata: md}
}

// enqueueRetry добавляет в ограниченную очередь повторов; при переполнении
// выбрасывается самая старая запись.
func (e *Engine) enqueueRetry(msg gateway.Message, md classifier.Metadata) {
	if len(e.retryQueue) >= maxRetryQueue {
		logger.Warnf("organize: retry queue full (%d), dropping oldest entry", maxRetryQueue)
		e.retryQueue = e.retryQueue[1:]
	}
	e.retryQueue = append(e.retryQueue, retryItem{msg: msg, md: md})
}

func (e *Engine) ensureGeneralTopic(ctx context.Context) error {
	if e.generalTopicID != 0 {
		return nil
	}
	if e.topicMgr == nil {
		return fmt.Errorf("organize: cannot create general topic without topic manager")
	}
	topicID, err := e.topicMgr.EnsureGeneralTopic(ctx, e.cfg.GeneralTopicTitle)
	if err != nil {
		return err
	}
	e.generalTopicID = topicID
	return nil
}

// ProcessRetryQueue повторяет попытку для всех отложенных сообщений; так и не
// пристроенные возвращаются в очередь.
func (e *Engine) ProcessRetryQueue(ctx context.Context) int {
	if len(e.retryQueue) == 0 {
		return 0
	}
	pending := e.retryQueue
	e.retryQueue = nil

	processed := 0
	for _, item := range pending {
		res := e.OrganizeMessage(ctx, item.msg)
		if res.Success {
			processed++
			continue
		}
		e.enqueueRetry(item.msg, item.md)
	}
	logger.Infof("organize: processed %d from retry queue, %d remaining", processed, len(e.retryQueue))
	return processed
}

// RetryQueueSize — текущая длина очереди повторов, для диагностики.
func (e *Engine) RetryQueueSize() int { return len(e.retryQueue) }

// TopicsCreated — сколько топиков создано менеджером этого движка.
func (e *Engine) TopicsCreated() int {
	if e.topicMgr == nil {
		return 0
	}
	return e.topicMgr.CreatedCount()
}
