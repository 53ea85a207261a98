// Package forwarder — сквозной конвейер пересылки: выборка сообщений из источника,
// группировка, дедупликация, маршрутизация в топик и доставка в назначение с записью
// метаданных, привязок и дневной статистики. Внутри прогона группы обрабатываются в
// порядке возрастания id; участники группы шлются строго последовательно с паузой в
// секунду. Ошибки доставки группы гасятся здесь: FLOOD_WAIT — сон и пропуск группы,
// отказ в правах и прочие сбои — запись в лог и пропуск группы. Ошибки выбора
// аккаунта, разрешения каналов и выборки сообщений возвращаются вызывающему.
package forwarder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/SWORDIntel/spectra/internal/accounts"
	"github.com/SWORDIntel/spectra/internal/classifier"
	"github.com/SWORDIntel/spectra/internal/dedup"
	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/grouper"
	"github.com/SWORDIntel/spectra/internal/infra/clock"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/organize"
	"github.com/SWORDIntel/spectra/internal/store"
)

const interMessageDelay = time.Second

// Attribution рендерит заголовок «переслано из…» при отправке от своего имени.
// Плейсхолдеры: {source_channel_name}, {source_channel_id}, {sender_name},
// {sender_id}, {timestamp}, {message_id}.
type Attribution struct {
	Template        string
	TimestampFormat string
	DisableForDests map[int64]bool
}

func (a Attribution) render(originTitle string, originID, senderID int64, ts time.Time, msgID int64) string {
	if a.Template == "" {
		return fmt.Sprintf("[Forwarded from %s (ID: %d)]", originTitle, originID)
	}
	tsFormat := a.TimestampFormat
	if tsFormat == "" {
		tsFormat = "2006-01-02 15:04:05"
	}
	// Имена отправителей не разрешаются отдельным запросом; в {sender_name} уходит id.
	senderName := ""
	if senderID != 0 {
		senderName = fmt.Sprintf("id:%d", senderID)
	}
	replacer := strings.NewReplacer(
		"{source_channel_name}", originTitle,
		"{source_channel_id}", fmt.Sprintf("%d", originID),
		"{sender_name}", senderName,
		"{sender_id}", fmt.Sprintf("%d", senderID),
		"{timestamp}", ts.Format(tsFormat),
		"{message_id}", fmt.Sprintf("%d", msgID),
	)
	return replacer.Replace(a.Template)
}

// Options настраивает один прогон пересылки.
type Options struct {
	OriginID                  int64
	DestinationID             int64
	AccountIdentifier         string
	StartMessageID            int64
	TopicOverride             int64
	ForwardWithAttribution    bool
	Attribution               Attribution
	SecondaryDestination      int64
	ForwardToAllSavedMessages bool
	GroupingStrategy          grouper.Strategy
	GroupingWindowSeconds     int64
	GroupBySameSender         bool
	MediaOnly                 bool
}

// Stats — итоговая сводка прогона.
type Stats struct {
	MessagesForwarded int
	FilesForwarded    int
	BytesForwarded    int64
	TopicsCreated     int
	TopicAssignments  int
	FallbackUsed      int
}

// Forwarder связывает пул аккаунтов, Gateway, дедупликатор, группировщик и движок
// организации в один прогон.
type Forwarder struct {
	pool     *accounts.Pool
	st       *store.Store
	dd       *dedup.Deduplicator
	classify *classifier.Classifier
	engine   *organize.Engine // nil — организация топиков выключена
	dedupe   bool             // false — проверка дубликатов пропускается, запись инвентаря остаётся
}

// New собирает Forwarder. engine может быть nil, если назначение не организуется.
func New(pool *accounts.Pool, st *store.Store, dd *dedup.Deduplicator, classify *classifier.Classifier, engine *organize.Engine, dedupe bool) *Forwarder {
	return &Forwarder{pool: pool, st: st, dd: dd, classify: classify, engine: engine, dedupe: dedupe}
}

// Run выполняет один прогон (источник, назначение, аккаунт): аренда аккаунта,
// разрешение сущностей, выборка, группировка и обработка групп по порядку.
// Возвращает id последнего успешно пересланного сообщения и сводку.
func (f *Forwarder) Run(ctx context.Context, opts Options) (int64, Stats, error) {
	var stats Stats

	handle, err := f.pool.Select(ctx, opts.AccountIdentifier)
	if err != nil {
		return 0, stats, fmt.Errorf("forwarder: %w", err)
	}
	defer handle.Release()
	gw := handle.Gateway

	origin, err := gw.ResolveEntity(ctx, opts.OriginID)
	if err != nil {
		return 0, stats, fmt.Errorf("forwarder: resolve origin: %w", err)
	}
	destination, err := gw.ResolveEntity(ctx, opts.DestinationID)
	if err != nil {
		return 0, stats, fmt.Errorf("forwarder: resolve destination: %w", err)
	}

	topicsCreatedBefore := 0
	if f.engine != nil {
		if err := f.engine.Initialize(ctx); err != nil {
			logger.Warnf("forwarder: organization engine init failed for %d: %v", opts.DestinationID, err)
		}
		topicsCreatedBefore = f.engine.TopicsCreated()
	}

	messages, err := gw.IterMessages(ctx, origin, gateway.IterOptions{
		MinID: opts.StartMessageID, MediaOnly: opts.MediaOnly, Reverse: true,
	})
	if err != nil {
		return 0, stats, fmt.Errorf("forwarder: iterate origin messages: %w", err)
	}
	logger.Infof("forwarder: fetched %d messages from %d", len(messages), opts.OriginID)

	groups := grouper.GroupMessages(messages, opts.GroupingStrategy, opts.GroupingWindowSeconds, opts.GroupBySameSender)
	logger.Infof("forwarder: processing %d group(s) for %d -> %d", len(groups), opts.OriginID, opts.DestinationID)

	var lastMessageID int64
	for i, group := range groups {
		if ctx.Err() != nil {
			return lastMessageID, stats, ctx.Err()
		}
		if len(group.Messages) == 0 {
			continue
		}

		if f.dedupe {
			dup, err := f.dd.IsDuplicate(ctx, group, gw)
			if err != nil {
				logger.Warnf("forwarder: dedupe check failed for group %d: %v", group.FirstID(), err)
			}
			if dup {
				logger.Infof("forwarder: group %d is a duplicate, skipping", group.FirstID())
				continue
			}
		}

		topicID, topicTitle, fallbackUsed, assignCategory := f.resolveTopic(ctx, opts, group.Messages[0])
		if fallbackUsed {
			stats.FallbackUsed++
		}

		ok, err := f.forwardGroup(ctx, gw, origin, destination, group, topicID, opts)
		if err != nil {
			switch {
			case asFloodWait(err) != nil:
				fw := asFloodWait(err)
				logger.Warnf("forwarder: flood wait on group %d, sleeping %ds", group.FirstID(), fw.Seconds)
				select {
				case <-time.After(time.Duration(fw.Seconds+1) * time.Second):
				case <-ctx.Done():
					return lastMessageID, stats, ctx.Err()
				}
				continue
			case isPermissionError(err):
				logger.Errorf("forwarder: permission error on group %d: %v", group.FirstID(), err)
				continue
			default:
				logger.Errorf("forwarder: unknown error on group %d: %v", group.FirstID(), err)
				continue
			}
		}
		if !ok {
			continue
		}

		var topicPtr *int64
		if topicID != 0 {
			topicPtr = &topicID
			stats.TopicAssignments += len(group.Messages)
		}
		if err := f.dd.RecordForwarded(ctx, group, opts.OriginID, topicPtr, gw); err != nil {
			logger.Errorf("forwarder: record forwarded failed for group %d: %v", group.FirstID(), err)
		}

		f.fanOut(ctx, gw, origin, group, opts)

		stats.MessagesForwarded += len(group.Messages)
		for _, m := range group.Messages {
			if m.File != nil {
				stats.FilesForwarded++
				stats.BytesForwarded += m.File.Size
			}
		}
		lastMessageID = group.Messages[len(group.Messages)-1].ID

		f.recordMetadata(ctx, opts.DestinationID, group, topicPtr, topicTitle, assignCategory, fallbackUsed)

		logger.Debugf("forwarder: group %d/%d done, last id %d", i+1, len(groups), lastMessageID)
	}

	if f.engine != nil {
		stats.TopicsCreated = f.engine.TopicsCreated() - topicsCreatedBefore
	}
	if stats.TopicsCreated > 0 {
		date := clock.Now().Format("2006-01-02")
		_ = f.st.AccumulateStats(ctx, opts.DestinationID, date, store.StatsDelta{
			TopicsCreated: stats.TopicsCreated,
		})
	}

	return lastMessageID, stats, nil
}

// resolveTopic выбирает топик для группы: явный override, затем решение движка
// организации, иначе без топика.
func (f *Forwarder) resolveTopic(ctx context.Context, opts Options, first gateway.Message) (topicID int64, topicTitle string, fallbackUsed bool, category string) {
	if opts.TopicOverride != 0 {
		return opts.TopicOverride, "", false, ""
	}
	if f.engine == nil {
		return 0, "", false, ""
	}
	res := f.engine.OrganizeMessage(ctx, first)
	return res.TopicID, res.TopicTitle, res.FallbackUsed, res.Category
}

// forwardGroup шлёт участников группы строго последовательно с паузой
// interMessageDelay между ними. Атрибуция включается только без топика и только
// для назначений, не попавших в чёрный список.
func (f *Forwarder) forwardGroup(ctx context.Context, gw *gateway.Gateway, origin, destination gateway.Entity, group grouper.Group, topicID int64, opts Options) (bool, error) {
	useAttribution := opts.ForwardWithAttribution && topicID == 0 && !opts.Attribution.DisableForDests[destination.ID]

	for i, msg := range group.Messages {
		var err error
		if useAttribution {
			header := opts.Attribution.render(origin.Title, origin.ID, msg.SenderID, msg.Date, msg.ID)
			body := header + "\n\n" + msg.Text
			_, err = gw.SendMessage(ctx, destination.ID, body, topicID)
		} else {
			_, err = gw.ForwardMessages(ctx, destination.ID, origin, []int64{msg.ID}, topicID)
		}
		if err != nil {
			return false, err
		}
		if i < len(group.Messages)-1 {
			select {
			case <-time.After(interMessageDelay):
			case <-ctx.Done():
				return false, ctx.Err()
			}
		}
	}
	return true, nil
}

// fanOut — вторичное назначение и «Избранное» каждого аккаунта, best-effort:
// основная доставка уже состоялась, сбои здесь её не отменяют.
func (f *Forwarder) fanOut(ctx context.Context, gw *gateway.Gateway, origin gateway.Entity, group grouper.Group, opts Options) {
	if opts.SecondaryDestination != 0 {
		for i, msg := range group.Messages {
			if _, err := gw.ForwardMessages(ctx, opts.SecondaryDestination, origin, []int64{msg.ID}, 0); err != nil {
				if fw := asFloodWait(err); fw != nil {
					logger.Warnf("forwarder: flood wait on secondary destination, sleeping %ds", fw.Seconds)
					time.Sleep(time.Duration(fw.Seconds+1) * time.Second)
					continue
				}
				logger.Errorf("forwarder: secondary destination forward failed for %d: %v", msg.ID, err)
				continue
			}
			if i < len(group.Messages)-1 {
				time.Sleep(interMessageDelay)
			}
		}
	}

	if !opts.ForwardToAllSavedMessages {
		return
	}
	for _, m := range f.pool.Members() {
		if !m.Available {
			continue
		}
		for i, msg := range group.Messages {
			if _, err := m.Gateway.ForwardToSelf(ctx, origin, []int64{msg.ID}); err != nil {
				logger.Errorf("forwarder: saved-messages forward failed for %s/%d: %v", m.Identifier, msg.ID, err)
				continue
			}
			if i < len(group.Messages)-1 {
				time.Sleep(interMessageDelay)
			}
		}
	}
}

func (f *Forwarder) recordMetadata(ctx context.Context, destID int64, group grouper.Group, topicPtr *int64, topicTitle, category string, fallbackUsed bool) {
	if f.classify == nil {
		return
	}
	method := store.MethodAuto
	if fallbackUsed {
		method = store.MethodFallback
	}
	for _, msg := range group.Messages {
		md := f.classify.Classify(msg)
		if category != "" {
			md.Category = category
		}
		var size, duration, width, height *int64
		if msg.File != nil {
			s := msg.File.Size
			size = &s
		}
		if md.Duration > 0 {
			d := md.Duration
			duration = &d
		}
		if md.Width > 0 {
			w := md.Width
			width = &w
		}
		if md.Height > 0 {
			h := md.Height
			height = &h
		}
		if err := f.st.UpsertContentMetadata(ctx, store.ContentMetadata{
			MessageID: msg.ID, ChannelID: destID, ContentType: md.ContentType, Category: md.Category,
			Subcategory: md.Subcategory, FileExt: md.FileExt, FileSize: size, MIME: md.MIME,
			Duration: duration, Width: width, Height: height,
			Keywords: strings.Join(md.Keywords, ","), Confidence: md.Confidence,
		}); err != nil {
			logger.Warnf("forwarder: persist content metadata for %d failed: %v", msg.ID, err)
		}
		if err := f.st.UpsertAssignment(ctx, store.TopicAssignment{
			MessageID: msg.ID, ChannelID: destID, TopicID: topicPtr, TopicTitle: topicTitle,
			Category: md.Category, Method: method, Confidence: md.Confidence,
			FallbackUsed: fallbackUsed, CreatedAt: clock.Now(),
		}); err != nil {
			logger.Warnf("forwarder: persist topic assignment for %d failed: %v", msg.ID, err)
		}
	}
}

// TotalForward — режим полной пересылки: обход EnumerateChannelAccess с прогоном Run
// для каждой пары (аккаунт, канал) в общее назначение. Ошибка одного канала не
// прерывает остальные.
func (f *Forwarder) TotalForward(ctx context.Context, destinationID int64, baseOpts Options) (Stats, error) {
	var total Stats
	err := f.st.EnumerateChannelAccess(ctx, func(ca store.ChannelAccess) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		opts := baseOpts
		opts.OriginID = ca.ChannelID
		opts.DestinationID = destinationID
		opts.AccountIdentifier = ca.AccountID

		_, stats, err := f.Run(ctx, opts)
		if err != nil {
			logger.Errorf("forwarder: total-forward channel %d via %s failed: %v", ca.ChannelID, ca.AccountID, err)
			return nil
		}
		total.MessagesForwarded += stats.MessagesForwarded
		total.FilesForwarded += stats.FilesForwarded
		total.BytesForwarded += stats.BytesForwarded
		total.TopicsCreated += stats.TopicsCreated
		total.TopicAssignments += stats.TopicAssignments
		total.FallbackUsed += stats.FallbackUsed
		return nil
	})
	return total, err
}

func asFloodWait(err error) *gateway.FloodWaitError {
	var fw *gateway.FloodWaitError
	if errors.As(err, &fw) {
		return fw
	}
	return nil
}

func isPermissionError(err error) bool {
	var chatAdmin *gateway.ChatAdminRequiredError
	var chanPriv *gateway.ChannelPrivateError
	var banned *gateway.UserBannedError
	return errors.As(err, &chatAdmin) || errors.As(err, &chanPriv) || errors.As(err, &banned)
}
