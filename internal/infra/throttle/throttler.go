// Package throttle — ограничение скорости и повторные попытки для внешних
// интеграций. Токен-бакет (RPS + burst) задаёт темп, экспоненциальный backoff
// с джиттером — повторы, а WaitExtractor'ы распознают серверные указания
// подождать (FLOOD_WAIT, retry_after). Ошибка, реализующая StopRetryer,
// прекращает повторы немедленно. Do может вызываться параллельно;
// Start/Stop идемпотентны.
package throttle

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// defaultBurstFactor задаёт burst по умолчанию как кратный rate: короткий
// всплеск до 2*rate операций без ожидания пополнения.
const defaultBurstFactor = 2

// Параметры экспоненциального backoff: 2^attempt секунд, не больше минуты,
// с множителем-джиттером из [0.85, 1.15).
const (
	backoffBase       = 2.0
	backoffMaxSeconds = 60.0
	jitterMin         = 0.85
	jitterSpan        = 0.3
)

// WaitExtractor разбирает ошибку и возвращает длительность серверной паузы.
// Булев флаг означает «формат распознан». Экстракторы пробуются в порядке
// регистрации; первый распознавший определяет паузу.
type WaitExtractor func(err error) (time.Duration, bool)

// StopRetryer объявляет ошибку неповторяемой: она возвращается сразу.
type StopRetryer interface {
	StopRetry() bool
}

// ErrNotStarted возвращается, если Do вызван до Start.
var ErrNotStarted = errors.New("throttle: Start must be called before Do")

// Option настраивает троттлер при создании.
type Option func(*Throttler)

// WithBurst переопределяет ёмкость бакета; значения <= 0 игнорируются.
func WithBurst(burst int) Option {
	return func(t *Throttler) {
		if burst > 0 {
			t.burst = burst
		}
	}
}

// WithMaxRetries ограничивает число повторов; <= 0 — без ограничения.
func WithMaxRetries(n int) Option {
	return func(t *Throttler) { t.maxRetries = n }
}

// WithWaitExtractors регистрирует экстракторы серверных пауз.
func WithWaitExtractors(ex ...WaitExtractor) Option {
	return func(t *Throttler) {
		t.extractors = append(t.extractors, ex...)
	}
}

// WithRandom подменяет источник случайности (детерминированные тесты).
func WithRandom(fn func() float64) Option {
	return func(t *Throttler) {
		if fn != nil {
			t.randomFn = fn
		}
	}
}

// Throttler — токен-бакет плюс стратегия повторов. Все изменяемые поля
// фиксируются до Start; после него читаются без блокировок.
type Throttler struct {
	rate  int
	burst int

	extractors []WaitExtractor
	maxRetries int
	randomFn   func() float64

	startOnce sync.Once
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu      sync.Mutex
	rootCtx context.Context
	cancel  context.CancelFunc
	tokens  chan struct{}
}

// New создаёт троттлер с частотой rate операций в секунду.
// Start вызывается отдельно и запускает пополнение бакета.
func New(rate int, opts ...Option) *Throttler {
	if rate <= 0 {
		rate = 1
	}
	t := &Throttler{
		rate:       rate,
		burst:      rate * defaultBurstFactor,
		maxRetries: -1,
		randomFn:   rand.Float64,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.burst < 1 {
		t.burst = 1
	}
	return t
}

// Start предзаполняет бакет и запускает фоновое пополнение. Идемпотентен.
func (t *Throttler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	t.startOnce.Do(func() {
		t.mu.Lock()
		t.rootCtx, t.cancel = context.WithCancel(ctx)
		t.tokens = make(chan struct{}, t.burst)
		for range t.burst {
			t.tokens <- struct{}{}
		}
		t.mu.Unlock()

		t.wg.Go(t.refillLoop)
	})
}

// Stop останавливает пополнение и дожидается фоновой горутины. Идемпотентен.
func (t *Throttler) Stop() {
	t.mu.Lock()
	started := t.rootCtx != nil
	t.mu.Unlock()
	if !started {
		return
	}
	t.stopOnce.Do(func() {
		t.cancel()
		t.wg.Wait()
	})
}

// Do выполняет fn под лимитом бакета с повторами:
//  1. ждём токен (уважая ctx и Stop);
//  2. вызываем fn;
//  3. при ошибке: StopRetryer или сорванный контекст — вернуть сразу;
//     распознанная серверная пауза — подождать и повторить без роста attempt;
//     иначе экспоненциальный backoff с учётом лимита повторов.
func (t *Throttler) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	root, tokens := t.rootCtx, t.tokens
	t.mu.Unlock()
	if root == nil {
		return ErrNotStarted
	}

	for attempt := 0; ; {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-root.Done():
			return context.Canceled
		case <-tokens:
		}

		callErr := fn()
		if callErr == nil {
			return nil
		}

		var stopper StopRetryer
		switch {
		case errors.As(callErr, &stopper) && stopper.StopRetry():
			return callErr
		case errors.Is(callErr, context.Canceled) || errors.Is(callErr, context.DeadlineExceeded):
			return callErr
		}

		if wait, ok := t.extractWait(callErr); ok {
			// Серверная пауза не считается попыткой.
			if err := sleepCtx(ctx, root, wait); err != nil {
				return err
			}
			continue
		}

		if t.maxRetries > 0 && attempt >= t.maxRetries {
			return fmt.Errorf("throttle: max retries reached (%d): last error: %w", t.maxRetries, callErr)
		}
		delay := t.backoffDelay(attempt)
		attempt++
		if err := sleepCtx(ctx, root, delay); err != nil {
			return err
		}
	}
}

// refillLoop добавляет токен каждые 1/rate секунд, не переполняя бакет.
func (t *Throttler) refillLoop() {
	interval := time.Second / time.Duration(t.rate)
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-t.rootCtx.Done():
			return
		case <-ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		}
	}
}

func (t *Throttler) extractWait(err error) (time.Duration, bool) {
	for _, ex := range t.extractors {
		if ex == nil {
			continue
		}
		if wait, ok := ex(err); ok {
			return wait, true
		}
	}
	return 0, false
}

func (t *Throttler) backoffDelay(attempt int) time.Duration {
	base := math.Pow(backoffBase, float64(attempt))
	if base > backoffMaxSeconds {
		base = backoffMaxSeconds
	}
	jitter := jitterMin + t.randomFn()*jitterSpan
	return time.Duration(base * jitter * float64(time.Second))
}

// sleepCtx ждёт duration либо отмену одного из контекстов.
func sleepCtx(ctx, root context.Context, duration time.Duration) error {
	if duration <= 0 {
		return nil
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-root.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}
