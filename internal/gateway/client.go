// Сборка клиента для одного аккаунта: по одному *telegram.Client на слот пула, весь
// run-цикл обёрнут в floodwait.Waiter из gotd/contrib — FLOOD_WAIT на уровне транспорта
// выжидается и повторяется прозрачно, не всплывая к вызывающему.
package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/SWORDIntel/spectra/internal/infra/config"
	"github.com/SWORDIntel/spectra/internal/infra/logger"

	"github.com/go-faster/errors"
	"github.com/gotd/contrib/middleware/floodwait"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/auth"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
)

const selfLoginTimeout = 30 * time.Second

// Gateway — MTProto-сессия одного аккаунта за узкой доменной поверхностью.
// На каждый AccountConfig существует ровно один Gateway; набором владеет пул аккаунтов.
type Gateway struct {
	Account string

	client  *telegram.Client
	api     *tg.Client
	waiter  *floodwait.Waiter
	state   *connState
	peers   *peerStore
	session *fileSessionStorage

	runCtx    context.Context
	runCancel context.CancelFunc
	runErr    error
	runDone   chan struct{}
	runOnce   sync.Once
}

// New собирает Gateway для одного аккаунта. Подключение происходит только в Start.
func New(acc config.AccountConfig) (*Gateway, error) {
	sessionStore := &fileSessionStorage{path: acc.SessionFile}

	g := &Gateway{Account: acc.Identifier}

	// Waiter обязан стоять в цепочке middleware, иначе FLOOD_WAIT до него не дойдёт.
	waiter := floodwait.NewWaiter().WithCallback(func(_ context.Context, wait floodwait.FloodWait) {
		logger.Warnf("gateway[%s]: flood wait %s, pausing", acc.Identifier, wait.Duration)
	})
	g.waiter = waiter

	opts := telegram.Options{
		SessionStorage: sessionStore,
		Middlewares: []telegram.Middleware{
			waiter,
		},
		OnDead: func() {
			if g.state != nil {
				g.state.MarkDisconnected()
			}
		},
		Device: telegram.DeviceConfig{
			DeviceModel:    "SPECTRA",
			SystemVersion:  "linux",
			AppVersion:     "1.0",
			LangCode:       "en",
			SystemLangCode: "en",
		},
	}
	if config.Env().TestDC() {
		opts.DCList = dcs.Test()
	}
	if p := config.Env().Proxy(); p.Enabled {
		resolver, err := proxyResolver(p)
		if err != nil {
			return nil, fmt.Errorf("gateway[%s]: %w", acc.Identifier, err)
		}
		opts.Resolver = resolver
	}

	client := telegram.NewClient(acc.APIID, acc.APIHash, opts)
	g.client = client
	g.api = client.API()
	g.session = sessionStore

	peerDB, err := newPeerStore(g.api, acc.PeerDBFile)
	if err != nil {
		return nil, fmt.Errorf("gateway[%s]: %w", acc.Identifier, err)
	}
	g.peers = peerDB

	return g, nil
}

// Start подключает аккаунт, при отсутствии сессии проводя интерактивный логин, и держит
// MTProto-соединение в фоне до отмены ctx или вызова Stop. Блокируется, пока не пройдут
// первичный логин (или восстановление сессии) и прогрев кеша peer'ов.
func (g *Gateway) Start(ctx context.Context, phone string) error {
	g.runCtx, g.runCancel = context.WithCancel(ctx)
	g.runDone = make(chan struct{})

	ready := make(chan error, 1)

	go func() {
		defer close(g.runDone)
		err := g.waiter.Run(g.runCtx, func(waitCtx context.Context) error {
			return g.client.Run(waitCtx, func(runCtx context.Context) error {
				g.state = newConnState(runCtx, g.client)
				g.session.state = g.state

				if err := g.loginIfNeeded(runCtx, phone); err != nil {
					ready <- err
					return err
				}
				if err := g.peers.LoadFromStorage(runCtx); err != nil {
					logger.Warnf("gateway[%s]: load peer cache: %v", g.Account, err)
				}
				ready <- nil

				<-runCtx.Done()
				return runCtx.Err()
			})
		})
		g.runErr = err
	}()

	select {
	case err := <-ready:
		return err
	case <-g.runDone:
		return g.runErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop разрывает соединение и освобождает файл хранилища peer'ов.
func (g *Gateway) Stop() {
	g.runOnce.Do(func() {
		if g.runCancel != nil {
			g.runCancel()
		}
		if g.runDone != nil {
			<-g.runDone
		}
		if g.state != nil {
			g.state.Shutdown()
		}
		if g.peers != nil {
			_ = g.peers.Close()
		}
	})
}

func (g *Gateway) loginIfNeeded(ctx context.Context, phone string) error {
	loginCtx, cancel := context.WithTimeout(ctx, selfLoginTimeout)
	defer cancel()

	status, err := g.client.Auth().Status(loginCtx)
	if err != nil {
		return &AuthError{Account: g.Account, Cause: err}
	}
	if status.Authorized {
		return nil
	}

	flow := auth.NewFlow(TerminalAuthenticator{PhoneNumber: phone}, auth.SendCodeOptions{})
	if err := g.client.Auth().IfNecessary(loginCtx, flow); err != nil {
		return &AuthError{Account: g.Account, Cause: errors.Wrap(err, "auth flow")}
	}
	return nil
}

// WaitOnline блокируется до восстановления соединения аккаунта либо отмены ctx.
func (g *Gateway) WaitOnline(ctx context.Context) {
	if g.state != nil {
		g.state.WaitOnline(ctx)
	}
}
