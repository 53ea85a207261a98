// Package app собирает компоненты SPECTRA в один процесс: хранилище, пул аккаунтов,
// дедупликатор, классификатор и индексатор доступа живут в единственном экземпляре;
// пара форвардер/движок организации строится на лету под конкретный канал-назначение,
// потому что его настройки (стратегия топиков, fallback, cooldown) поканальные.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/SWORDIntel/spectra/internal/access"
	"github.com/SWORDIntel/spectra/internal/accounts"
	"github.com/SWORDIntel/spectra/internal/classifier"
	"github.com/SWORDIntel/spectra/internal/dedup"
	"github.com/SWORDIntel/spectra/internal/forwarder"
	"github.com/SWORDIntel/spectra/internal/infra/config"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/organize"
	"github.com/SWORDIntel/spectra/internal/queueworker"
	"github.com/SWORDIntel/spectra/internal/scheduler"
	"github.com/SWORDIntel/spectra/internal/store"
	"github.com/SWORDIntel/spectra/internal/topics"
)

const (
	topicCacheSize = 1024
	topicCacheTTL  = time.Hour
)

// App агрегирует все общепроцессные компоненты SPECTRA.
type App struct {
	Store      *store.Store
	Pool       *accounts.Pool
	Dedup      *dedup.Deduplicator
	Classifier *classifier.Classifier
	Access     *access.Indexer
	Queue      *queueworker.Worker
	Scheduler  *scheduler.Scheduler
}

// New возвращает пустой App; всё подключает Init.
func New() *App {
	return &App{}
}

// Init открывает хранилище, собирает пул аккаунтов и стартует Gateway каждого
// настроенного аккаунта, затем строит над ними дедупликатор, классификатор,
// индексатор доступа, воркер очереди и планировщик. config.Load уже должен пройти.
func (a *App) Init(ctx context.Context) error {
	env := config.Env()

	st, err := store.Open(ctx, env.DatabasePath())
	if err != nil {
		return fmt.Errorf("app: open store: %w", err)
	}
	a.Store = st

	pool, err := accounts.New(st, env.Accounts())
	if err != nil {
		return fmt.Errorf("app: build account pool: %w", err)
	}
	a.Pool = pool
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("app: start account pool: %w", err)
	}

	dd, err := dedup.New(ctx, st, env.ScratchDir())
	if err != nil {
		return fmt.Errorf("app: build deduplicator: %w", err)
	}
	a.Dedup = dd

	a.Classifier = classifier.New()
	a.Access = access.New(pool, st)
	a.Queue = queueworker.New(pool, st, dd, env.BandwidthLimitKBps())
	a.Scheduler = scheduler.New(st, a.BuildForwarder, a.Queue, env.SchedulerStateFile())

	return nil
}

// Stop отключает Gateway всех аккаунтов и закрывает хранилище.
func (a *App) Stop() {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Queue != nil {
		a.Queue.Stop()
	}
	if a.Pool != nil {
		a.Pool.Stop()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			logger.Warnf("app: close store: %v", err)
		}
	}
}

// OrgConfigFor возвращает действующие настройки организации канала: поканальный
// override, заданный через `spectra topics config`, либо глобальный дефолт из конфига.
func (a *App) OrgConfigFor(ctx context.Context, channelID int64) organize.Config {
	env := config.Env()
	global := env.Organization()

	cfg := organize.Config{
		Mode:                  organize.Mode(global.Mode),
		TopicStrategy:         topics.Strategy(global.TopicStrategy),
		Fallback:              organize.FallbackStrategy(global.FallbackStrategy),
		ConfidenceThreshold:   global.ClassificationConfidenceFloor,
		GeneralTopicTitle:     global.GeneralTopicTitle,
		EnableContentAnalysis: global.EnableContentAnalysis,
		CreationCooldown:      time.Duration(global.TopicCreationCooldownSeconds) * time.Second,
	}

	override, err := a.Store.GetOrgConfig(ctx, channelID)
	if err != nil {
		return cfg
	}
	cfg.Mode = organize.Mode(override.Mode)
	cfg.TopicStrategy = topics.Strategy(override.TopicStrategy)
	cfg.Fallback = organize.FallbackStrategy(override.FallbackStrategy)
	cfg.ConfidenceThreshold = override.ConfidenceThreshold
	cfg.GeneralTopicTitle = override.GeneralTopicTitle
	cfg.EnableContentAnalysis = override.EnableClassification
	if override.CooldownSeconds > 0 {
		cfg.CreationCooldown = time.Duration(override.CooldownSeconds) * time.Second
	}
	return cfg
}

// BuildForwarder собирает Forwarder под один прогон: менеджер топиков и движок
// организации строятся для destinationID, если его действующий режим не disabled.
func (a *App) BuildForwarder(ctx context.Context, accountIdentifier string, destinationID int64) (*forwarder.Forwarder, error) {
	handle, err := a.Pool.Select(ctx, accountIdentifier)
	if err != nil {
		return nil, fmt.Errorf("app: select account: %w", err)
	}
	defer handle.Release()

	cfg := a.OrgConfigFor(ctx, destinationID)

	var engine *organize.Engine
	if cfg.Mode != organize.ModeDisabled {
		topicMgr := topics.New(destinationID, cfg.TopicStrategy, handle.Gateway, a.Store, topicCacheSize, topicCacheTTL, cfg.CreationCooldown)
		topicMgr.Initialize(ctx)
		engine = organize.New(destinationID, cfg, a.Store, a.Classifier, topicMgr)
		if err := engine.Initialize(ctx); err != nil {
			logger.Warnf("app: organization engine init for %d: %v", destinationID, err)
		}
	}

	return forwarder.New(a.Pool, a.Store, a.Dedup, a.Classifier, engine, config.Env().EnableDeduplication()), nil
}
