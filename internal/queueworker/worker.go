// Package queueworker — разбор персистентной файловой очереди: приоритет расписания,
// внутри приоритета FIFO. Каждая запись пересылается заново арендованным аккаунтом;
// при настроенном лимите полосы после каждого файла выдерживается пауза,
// пропорциональная его размеру. Запросы к Telegram идут через троттлер с
// экспоненциальными повторами и уважением серверных FLOOD_WAIT.
package queueworker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SWORDIntel/spectra/internal/accounts"
	"github.com/SWORDIntel/spectra/internal/dedup"
	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/grouper"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/infra/throttle"
	"github.com/SWORDIntel/spectra/internal/store"

	"golang.org/x/time/rate"
)

const perItemDeadline = 5 * time.Minute

const (
	// rpcRatePerSecond — частота запросов пересылки к Telegram из воркера.
	rpcRatePerSecond = 2
	// rpcRetryLimit — число повторов на транзиентных ошибках одного элемента.
	rpcRetryLimit = 2
)

// Worker разбирает таблицу file_forward_queue.
type Worker struct {
	pool    *accounts.Pool
	st      *store.Store
	dd      *dedup.Deduplicator
	limiter *rate.Limiter // nil — лимит полосы выключен
	rpc     *throttle.Throttler
}

// New собирает Worker. bandwidthLimitKBps <= 0 отключает лимит полосы.
func New(pool *accounts.Pool, st *store.Store, dd *dedup.Deduplicator, bandwidthLimitKBps int) *Worker {
	w := &Worker{
		pool: pool,
		st:   st,
		dd:   dd,
		rpc: throttle.New(rpcRatePerSecond,
			throttle.WithMaxRetries(rpcRetryLimit),
			throttle.WithWaitExtractors(gateway.FloodWaitExtractor())),
	}
	if bandwidthLimitKBps > 0 {
		bytesPerSecond := float64(bandwidthLimitKBps) * 1024
		// Burst сильно больше любого ожидаемого файла: WaitN сразу ошибается, если n
		// превышает burst, а нужна пропорциональная пауза, а не бакет,
		// отвергающий крупные файлы.
		const maxBurstBytes = 1 << 31
		w.limiter = rate.NewLimiter(rate.Limit(bytesPerSecond), maxBurstBytes)
	}
	return w
}

// Stop гасит троттлер запросов и его фоновую горутину.
func (w *Worker) Stop() {
	w.rpc.Stop()
}

// Result — сводка одного прохода разбора очереди.
type Result struct {
	Processed int
	Succeeded int
	Failed    int
}

// DrainOnce достаёт до batchSize ожидающих записей и пытается переслать каждую:
// назначение берётся из записи либо из владеющего расписания, успех фиксируется
// дедупликатором, статус строки обновляется в любом случае.
func (w *Worker) DrainOnce(ctx context.Context, batchSize int) (Result, error) {
	var res Result
	w.rpc.Start(ctx)

	entries, err := w.st.DequeuePendingFiles(ctx, batchSize)
	if err != nil {
		return res, fmt.Errorf("queueworker: dequeue: %w", err)
	}

	for _, entry := range entries {
		itemCtx, cancel := context.WithTimeout(ctx, perItemDeadline)
		err := w.processOne(itemCtx, entry)
		cancel()

		res.Processed++
		status := "success"
		if err != nil {
			status = fmt.Sprintf("error: %v", err)
			res.Failed++
			logger.Errorf("queueworker: item %d failed: %v", entry.QueueID, err)
		} else {
			res.Succeeded++
		}
		if updErr := w.st.UpdateQueueStatus(ctx, entry.QueueID, status, time.Now()); updErr != nil {
			logger.Errorf("queueworker: update status for %d failed: %v", entry.QueueID, updErr)
		}

		if ctx.Err() != nil {
			return res, ctx.Err()
		}
	}

	return res, nil
}

func (w *Worker) processOne(ctx context.Context, entry store.QueueEntry) error {
	destinationID, err := w.resolveDestination(ctx, entry)
	if err != nil {
		return err
	}

	handle, err := w.pool.Select(ctx, "")
	if err != nil {
		return fmt.Errorf("queueworker: %w", err)
	}
	defer handle.Release()
	gw := handle.Gateway

	origin, err := gw.ResolveEntity(ctx, entry.OriginChannel)
	if err != nil {
		return fmt.Errorf("queueworker: resolve origin: %w", err)
	}
	destination, err := gw.ResolveEntity(ctx, destinationID)
	if err != nil {
		return fmt.Errorf("queueworker: resolve destination: %w", err)
	}

	msg, err := gw.GetMessage(ctx, origin, entry.MessageID)
	if err != nil {
		return fmt.Errorf("queueworker: fetch message %d: %w", entry.MessageID, err)
	}

	if err := w.rpc.Do(ctx, func() error {
		_, fwdErr := gw.ForwardMessages(ctx, destination.ID, origin, []int64{entry.MessageID}, 0)
		return fwdErr
	}); err != nil {
		return fmt.Errorf("queueworker: forward: %w", err)
	}

	group := grouper.Group{Messages: []gateway.Message{msg}}
	if err := w.dd.RecordForwarded(ctx, group, entry.OriginChannel, nil, gw); err != nil {
		logger.Warnf("queueworker: record forwarded for %d failed: %v", entry.MessageID, err)
	}

	w.throttle(ctx, msg)
	return nil
}

// fileForwardParams — подмножество params_json расписания file_forward, нужное воркеру.
type fileForwardParams struct {
	Destination int64 `json:"dest"`
}

// resolveDestination берёт назначение из записи, а при его отсутствии — из расписания.
func (w *Worker) resolveDestination(ctx context.Context, entry store.QueueEntry) (int64, error) {
	if entry.Destination != 0 {
		return entry.Destination, nil
	}
	if entry.ScheduleID == nil {
		return 0, fmt.Errorf("queueworker: entry %d has no destination and no schedule", entry.QueueID)
	}
	schedule, err := w.st.GetSchedule(ctx, *entry.ScheduleID)
	if err != nil {
		return 0, fmt.Errorf("queueworker: entry %d: lookup schedule %d: %w", entry.QueueID, *entry.ScheduleID, err)
	}
	var params fileForwardParams
	if err := json.Unmarshal([]byte(schedule.ParamsJSON), &params); err != nil {
		return 0, fmt.Errorf("queueworker: entry %d: parse schedule %d params: %w", entry.QueueID, schedule.ID, err)
	}
	if params.Destination == 0 {
		return 0, fmt.Errorf("queueworker: entry %d: schedule %d has no destination", entry.QueueID, schedule.ID)
	}
	return params.Destination, nil
}

// throttle выдерживает паузу, пропорциональную размеру пересланного файла,
// если настроен лимит полосы.
func (w *Worker) throttle(ctx context.Context, msg gateway.Message) {
	if w.limiter == nil || msg.File == nil || msg.File.Size <= 0 {
		return
	}
	if err := w.limiter.WaitN(ctx, int(msg.File.Size)); err != nil {
		logger.Warnf("queueworker: bandwidth throttle wait failed: %v", err)
	}
}
