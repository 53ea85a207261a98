// Package scheduler — периодические задачи по cron-выражениям с типизированным
// payload на каждый вид (channel_forward, file_forward, mass_migration, generic).
// Каждая задача выполняется максимум в одном экземпляре; пересечение тиков — пропуск
// с предупреждением. Время последних запусков пишется в last_run_at и в дисковый
// снапшот; при старте снапшот не читается, и срабатывания, пропущенные за время
// простоя, не догоняются.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/SWORDIntel/spectra/internal/forwarder"
	"github.com/SWORDIntel/spectra/internal/infra/clock"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/infra/storage"
	"github.com/SWORDIntel/spectra/internal/queueworker"
	"github.com/SWORDIntel/spectra/internal/store"

	"github.com/cenkalti/backoff/v4"
	"github.com/robfig/cron/v3"
)

// jobRetryLimit ограничивает повторные попытки одного срабатывания задачи.
const jobRetryLimit = 2

// ChannelForwardParams — payload задач store.ScheduleChannelForward.
type ChannelForwardParams struct {
	Channel int64 `json:"channel"`
	Dest    int64 `json:"dest"`
}

// FileForwardParams — payload задач store.ScheduleFileForward.
type FileForwardParams struct {
	Source   int64  `json:"source"`
	Dest     int64  `json:"dest"`
	Types    string `json:"types,omitempty"`
	MinSize  int64  `json:"min_size,omitempty"`
	MaxSize  int64  `json:"max_size,omitempty"`
	Priority int    `json:"priority,omitempty"`
}

// MassMigrationParams — payload задач store.ScheduleMassMigration: по одному прогону
// форвардера на каждый канал, видимый пулу аккаунтов.
type MassMigrationParams struct {
	Dest int64 `json:"dest"`
}

// GenericParams — payload задач store.ScheduleGeneric: произвольная shell-команда.
// Выполнение произвольных команд — осознанное свойство этого вида задач: автор
// расписания и так управляет хостом.
type GenericParams struct {
	Command string `json:"command"`
}

// state — дисковый снапшот времени последних запусков.
type state struct {
	LastRun map[int64]time.Time `json:"last_run"`
}

// ForwarderBuilder собирает форвардер под конфигурацию организации конкретного
// канала-назначения: режим, стратегия топиков и fallback задаются поканально.
type ForwarderBuilder func(ctx context.Context, accountIdentifier string, destinationID int64) (*forwarder.Forwarder, error)

// Scheduler запускает каждую включённую запись расписания по её cron-выражению.
type Scheduler struct {
	st        *store.Store
	buildFwd  ForwarderBuilder
	qw        *queueworker.Worker
	stateFile string

	cronRunner *cron.Cron

	mu      sync.Mutex
	running map[int64]bool // overlap guard: job id -> currently executing
}

// New собирает Scheduler. buildFwd/qw могут быть nil, если задач соответствующих
// видов в расписании нет.
func New(st *store.Store, buildFwd ForwarderBuilder, qw *queueworker.Worker, stateFile string) *Scheduler {
	return &Scheduler{
		st:         st,
		buildFwd:   buildFwd,
		qw:         qw,
		stateFile:  stateFile,
		cronRunner: cron.New(),
		running:    make(map[int64]bool),
	}
}

// Start поднимает все включённые записи расписания из базы, регистрирует их в
// cron-раннере и запускает его горутину. Для чистого останова — Stop.
func (s *Scheduler) Start(ctx context.Context) error {
	entries, err := s.st.ListEnabledSchedules(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list enabled schedules: %w", err)
	}
	for _, e := range entries {
		entry := e
		if _, err := s.cronRunner.AddFunc(entry.CronExpr, func() { s.runJob(ctx, entry) }); err != nil {
			logger.Errorf("scheduler: bad cron expression for job %d (%q): %v", entry.ID, entry.CronExpr, err)
			continue
		}
		logger.Infof("scheduler: registered job %d (%s) %q", entry.ID, entry.Kind, entry.CronExpr)
	}
	s.cronRunner.Start()
	return nil
}

// Stop останавливает cron-раннер, дожидаясь завершения выполняющихся задач.
func (s *Scheduler) Stop() {
	stopCtx := s.cronRunner.Stop()
	<-stopCtx.Done()
}

// runJob держит single-flight на задачу, диспетчеризует по виду и фиксирует
// last_run_at в базе и в дисковом снапшоте. Транзиентные сбои задачи повторяются
// с экспоненциальным backoff в пределах одного срабатывания.
func (s *Scheduler) runJob(ctx context.Context, entry store.ScheduleEntry) {
	s.mu.Lock()
	if s.running[entry.ID] {
		s.mu.Unlock()
		logger.Warnf("scheduler: job %d still running, skipping this tick", entry.ID)
		return
	}
	s.running[entry.ID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, entry.ID)
		s.mu.Unlock()
	}()

	logger.Infof("scheduler: firing job %d (%s)", entry.ID, entry.Kind)

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), jobRetryLimit), ctx)
	if err := backoff.Retry(func() error { return s.dispatch(ctx, entry) }, policy); err != nil {
		logger.Errorf("scheduler: job %d failed: %v", entry.ID, err)
	}

	now := clock.Now()
	if err := s.st.MarkScheduleRan(ctx, entry.ID, now); err != nil {
		logger.Warnf("scheduler: persist last_run for job %d: %v", entry.ID, err)
	}
	if err := s.persistState(entry.ID, now); err != nil {
		logger.Warnf("scheduler: persist state snapshot: %v", err)
	}
}

func (s *Scheduler) dispatch(ctx context.Context, entry store.ScheduleEntry) error {
	switch entry.Kind {
	case store.ScheduleChannelForward:
		var p ChannelForwardParams
		if err := json.Unmarshal([]byte(entry.ParamsJSON), &p); err != nil {
			return fmt.Errorf("decode channel_forward params: %w", err)
		}
		if s.buildFwd == nil {
			return fmt.Errorf("forwarder builder not wired for channel_forward job")
		}
		fwd, err := s.buildFwd(ctx, "", p.Dest)
		if err != nil {
			return fmt.Errorf("build forwarder: %w", err)
		}
		_, _, err = fwd.Run(ctx, forwarder.Options{OriginID: p.Channel, DestinationID: p.Dest})
		return err

	case store.ScheduleFileForward:
		if s.qw == nil {
			return fmt.Errorf("queue worker not wired for file_forward job")
		}
		_, err := s.qw.DrainOnce(ctx, 50)
		return err

	case store.ScheduleMassMigration:
		var p MassMigrationParams
		if err := json.Unmarshal([]byte(entry.ParamsJSON), &p); err != nil {
			return fmt.Errorf("decode mass_migration params: %w", err)
		}
		if s.buildFwd == nil {
			return fmt.Errorf("forwarder builder not wired for mass_migration job")
		}
		fwd, err := s.buildFwd(ctx, "", p.Dest)
		if err != nil {
			return fmt.Errorf("build forwarder: %w", err)
		}
		_, err = fwd.TotalForward(ctx, p.Dest, forwarder.Options{})
		return err

	case store.ScheduleGeneric:
		var p GenericParams
		if err := json.Unmarshal([]byte(entry.ParamsJSON), &p); err != nil {
			return fmt.Errorf("decode generic params: %w", err)
		}
		cmd := exec.CommandContext(ctx, "sh", "-c", p.Command)
		out, err := cmd.CombinedOutput()
		if err != nil {
			return backoff.Permanent(fmt.Errorf("generic command: %w (%s)", err, bytes.TrimSpace(out)))
		}
		logger.Infof("scheduler: generic job %d finished: %s", entry.ID, bytes.TrimSpace(out))
		return nil
	}
	return fmt.Errorf("unknown schedule kind %q", entry.Kind)
}

func (s *Scheduler) persistState(jobID int64, at time.Time) error {
	if s.stateFile == "" {
		return nil
	}
	st := s.loadState()
	st.LastRun[jobID] = at
	encoded, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode scheduler state: %w", err)
	}
	return storage.AtomicWriteFile(s.stateFile, encoded)
}

func (s *Scheduler) loadState() state {
	st := state{LastRun: make(map[int64]time.Time)}
	data, err := readFileIfExists(s.stateFile)
	if err != nil || len(data) == 0 {
		return st
	}
	_ = json.Unmarshal(data, &st)
	if st.LastRun == nil {
		st.LastRun = make(map[int64]time.Time)
	}
	return st
}

func readFileIfExists(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return data, err
}
