// Package access — индексатор доступа к каналам. Для каждого аккаунта пула перечисляет
// его диалоги через Gateway и upsert'ит строки channel_access: какой аккаунт какие каналы
// читает. Идемпотентен, безопасен к повторному запуску, пропускает остывающие и забаненные
// аккаунты. Запускается отдельной командой (`spectra channels update-access`) или задачей
// планировщика, вне горячего пути пересылки.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/SWORDIntel/spectra/internal/accounts"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/store"
)

// Indexer обновляет таблицу channel_access по живому пулу аккаунтов.
type Indexer struct {
	pool *accounts.Pool
	st   *store.Store
}

// New создаёт Indexer над аккаунтами pool с сохранением в st.
func New(pool *accounts.Pool, st *store.Store) *Indexer {
	return &Indexer{pool: pool, st: st}
}

// Result — сводка одного вызова Refresh для вывода в CLI/отчёт.
type Result struct {
	AccountsScanned int
	AccountsSkipped int
	ChannelsSeen    int
	Errors          []error
}

// Refresh перечисляет диалоги каждого доступного аккаунта и upsert'ит строки доступа.
// Ошибка одного аккаунта не прерывает обход: она копится в Result, остальные продолжают.
func (idx *Indexer) Refresh(ctx context.Context) Result {
	var res Result
	now := time.Now()

	for _, m := range idx.pool.Members() {
		if ctx.Err() != nil {
			res.Errors = append(res.Errors, ctx.Err())
			return res
		}
		if !m.Available {
			logger.Infof("access: skipping %s (cooldown/banned)", m.Identifier)
			res.AccountsSkipped++
			continue
		}

		dialogs, err := m.Gateway.IterDialogs(ctx)
		if err != nil {
			logger.Warnf("access: %s: list dialogs: %v", m.Identifier, err)
			res.Errors = append(res.Errors, fmt.Errorf("access: %s: %w", m.Identifier, err))
			continue
		}

		res.AccountsScanned++
		for _, d := range dialogs {
			if !d.IsChannel {
				continue
			}
			if err := idx.st.UpsertChannelAccess(ctx, store.ChannelAccess{
				AccountID:    m.Identifier,
				ChannelID:    d.ChannelID,
				ChannelTitle: d.Title,
				LastSeenAt:   now,
			}); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("access: persist %s/%d: %w", m.Identifier, d.ChannelID, err))
				continue
			}
			res.ChannelsSeen++
		}
		logger.Infof("access: %s sees %d channels", m.Identifier, len(dialogs))
	}

	return res
}
