// Package accounts — пул авторизованных аккаунтов Telegram. Выдаёт аккаунты в аренду
// по round-robin, следит за cooldown после FLOOD_WAIT и за банами. Пул — единственная
// точка взаимного исключения: один аккаунт обслуживает не более одного запроса за раз.
package accounts

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/SWORDIntel/spectra/internal/gateway"
	"github.com/SWORDIntel/spectra/internal/infra/config"
	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/store"
)

// ErrNoAccountAvailable возвращает Select, когда все аккаунты забанены или остывают.
var ErrNoAccountAvailable = errors.New("accounts: no account available")

// member — один слот пула: Gateway аккаунта и его персональный мьютекс аренды.
type member struct {
	identifier string
	gw         *gateway.Gateway
	phone      string
	mu         sync.Mutex

	banned        bool
	cooldownUntil time.Time
}

func (m *member) unavailable(now time.Time) bool {
	return m.banned || now.Before(m.cooldownUntil)
}

// Pool держит Gateway каждого настроенного аккаунта и арбитрирует доступ к ним.
type Pool struct {
	st *store.Store

	mu      sync.Mutex
	members []*member
	cursor  int
}

// New собирает Gateway для каждого аккаунта из конфигурации, не подключая их; см. Start.
func New(st *store.Store, accs []config.AccountConfig) (*Pool, error) {
	p := &Pool{st: st}
	for _, acc := range accs {
		gw, err := gateway.New(acc)
		if err != nil {
			return nil, fmt.Errorf("accounts: build gateway for %s: %w", acc.Identifier, err)
		}
		p.members = append(p.members, &member{identifier: acc.Identifier, gw: gw, phone: acc.PhoneNumber})

		if err := st.UpsertAccount(context.Background(), store.Account{
			SessionID: acc.Identifier,
			APIID:     acc.APIID,
			APIHash:   acc.APIHash,
			Phone:     acc.PhoneNumber,
			Status:    store.AccountActive,
		}); err != nil {
			return nil, fmt.Errorf("accounts: persist account %s: %w", acc.Identifier, err)
		}
	}
	return p, nil
}

// Start подключает Gateway каждого аккаунта, при необходимости проводя интерактивный
// логин. Аккаунт, не сумевший стартовать, помечается недоступным; пул продолжает работу.
func (p *Pool) Start(ctx context.Context) error {
	for _, m := range p.members {
		if err := m.gw.Start(ctx, m.phone); err != nil {
			logger.Errorf("accounts: %s failed to start: %v", m.identifier, err)
			p.mu.Lock()
			m.banned = true
			p.mu.Unlock()
			_ = p.st.SetAccountCooldown(ctx, m.identifier, time.Now().Add(24*time.Hour), err.Error())
			continue
		}
		logger.Infof("accounts: %s connected", m.identifier)
	}
	return nil
}

// Stop отключает Gateway всех аккаунтов.
func (p *Pool) Stop() {
	for _, m := range p.members {
		m.gw.Stop()
	}
}

// Handle — арендованный аккаунт. По окончании работы вызывающий обязан вызвать Release.
type Handle struct {
	Identifier string
	Gateway    *gateway.Gateway
	pool       *Pool
	member     *member
}

// Release возвращает аккаунт в пул и увеличивает его счётчик использования.
func (h *Handle) Release() {
	h.member.mu.Unlock()
	_ = h.pool.st.IncrementUsage(context.Background(), h.Identifier)
}

// Select возвращает запрошенный аккаунт, если тот здоров, иначе идёт по кругу
// по активным не-остывающим аккаунтам. Возвращённый Handle обязателен к Release.
func (p *Pool) Select(ctx context.Context, preferred string) (*Handle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()

	if preferred != "" {
		for _, m := range p.members {
			if m.identifier == preferred && !m.unavailable(now) {
				return p.lease(m), nil
			}
		}
	}

	n := len(p.members)
	for i := 0; i < n; i++ {
		idx := (p.cursor + i) % n
		m := p.members[idx]
		if m.unavailable(now) {
			continue
		}
		p.cursor = (idx + 1) % n
		return p.lease(m), nil
	}
	return nil, ErrNoAccountAvailable
}

func (p *Pool) lease(m *member) *Handle {
	m.mu.Lock()
	return &Handle{Identifier: m.identifier, Gateway: m.gw, pool: p, member: m}
}

// Member — read-only представление слота пула для компонентов, которым нужно
// обойти все аккаунты, а не арендовать один (индексатор доступа к каналам).
type Member struct {
	Identifier string
	Gateway    *gateway.Gateway
	Available  bool
}

// Members возвращает срез всех аккаунтов с признаком текущей доступности
// (не забанен и не в cooldown).
func (p *Pool) Members() []Member {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	out := make([]Member, 0, len(p.members))
	for _, m := range p.members {
		out = append(out, Member{Identifier: m.identifier, Gateway: m.gw, Available: !m.unavailable(now)})
	}
	return out
}

// ReportFloodWait переводит аккаунт в cooldown на wait: Select будет пропускать его,
// пока пауза не истечёт. Решение о повторе или смене аккаунта остаётся за вызывающим.
func (p *Pool) ReportFloodWait(ctx context.Context, identifier string, wait time.Duration) {
	p.mu.Lock()
	for _, m := range p.members {
		if m.identifier == identifier {
			m.cooldownUntil = time.Now().Add(wait)
		}
	}
	p.mu.Unlock()
	_ = p.st.SetAccountCooldown(ctx, identifier, time.Now().Add(wait), "flood_wait")
}

// Ban выводит аккаунт из ротации насовсем (ошибка авторизации, деактивация).
func (p *Pool) Ban(ctx context.Context, identifier string, reason error) {
	p.mu.Lock()
	for _, m := range p.members {
		if m.identifier == identifier {
			m.banned = true
		}
	}
	p.mu.Unlock()
	_ = p.st.SetAccountBanned(ctx, identifier, reason.Error())
}
