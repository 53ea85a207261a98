// Отслеживание состояния соединения одного аккаунта: online/offline-переходы,
// генерационные wait-каналы и фоновый монитор восстановления. На каждый Gateway —
// свой экземпляр; глобального состояния нет.
package gateway

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SWORDIntel/spectra/internal/infra/logger"

	"github.com/gotd/td/pool"
	"github.com/gotd/td/rpc"
	"github.com/gotd/td/telegram"
)

const (
	reconnectPingInterval = 10 * time.Second
	reconnectPingTimeout  = 5 * time.Second
)

// connState отслеживает переходы online/offline клиента одного аккаунта и даёт
// вызывающим блокироваться до восстановления связи (WaitOnline).
type connState struct {
	client *telegram.Client
	ctx    context.Context

	connected atomic.Bool

	mu            sync.RWMutex
	waitCh        chan struct{}
	monitorCancel context.CancelFunc
}

func newConnState(ctx context.Context, client *telegram.Client) *connState {
	s := &connState{client: client, ctx: ctx}
	s.connected.Store(true)
	ready := make(chan struct{})
	close(ready)
	s.waitCh = ready
	return s
}

// WaitOnline блокируется до восстановления соединения либо отмены ctx.
func (s *connState) WaitOnline(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	if s.connected.Load() {
		return
	}
	for {
		ch := s.currentWaitCh()
		select {
		case <-ctx.Done():
			return
		case <-ch:
			if ch == s.currentWaitCh() {
				return
			}
		}
	}
}

func (s *connState) currentWaitCh() <-chan struct{} {
	s.mu.RLock()
	ch := s.waitCh
	s.mu.RUnlock()
	if ch == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return ch
}

// MarkConnected переводит в online: останавливает монитор и отпускает ожидающих.
func (s *connState) MarkConnected() {
	if s.connected.Swap(true) {
		return
	}
	s.mu.Lock()
	if s.monitorCancel != nil {
		s.monitorCancel()
		s.monitorCancel = nil
	}
	ch := s.waitCh
	if ch == nil {
		ch = make(chan struct{})
		s.waitCh = ch
	}
	select {
	case <-ch:
	default:
		close(ch)
	}
	s.mu.Unlock()
	logger.Debug("gateway: connection restored")
}

// MarkDisconnected переводит в offline, открывает новое поколение wait-канала и
// запускает фоновый монитор, пингующий клиента до восстановления.
func (s *connState) MarkDisconnected() {
	if !s.connected.CompareAndSwap(true, false) {
		return
	}
	s.mu.Lock()
	if s.monitorCancel != nil {
		s.monitorCancel()
	}
	s.waitCh = make(chan struct{})
	monitorCtx, cancel := context.WithCancel(s.ctx)
	s.monitorCancel = cancel
	s.mu.Unlock()

	logger.Debug("gateway: connection lost, monitoring for recovery")
	go s.monitorLoop(monitorCtx)
}

// HandleError классифицирует err и при транспортном сбое помечает соединение offline,
// возвращая true — вызывающий может повторить после WaitOnline.
func (s *connState) HandleError(err error) bool {
	if !isNetworkError(err) {
		return false
	}
	s.MarkDisconnected()
	return true
}

func (s *connState) Shutdown() {
	s.mu.Lock()
	if s.monitorCancel != nil {
		s.monitorCancel()
		s.monitorCancel = nil
	}
	wait := s.waitCh
	s.waitCh = nil
	s.mu.Unlock()
	if wait != nil {
		select {
		case <-wait:
		default:
			close(wait)
		}
	}
}

func (s *connState) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(reconnectPingInterval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		if ctx.Err() != nil {
			return
		}

		pingCtx, cancel := context.WithTimeout(ctx, reconnectPingTimeout)
		err := s.safePing(pingCtx)
		cancel()

		if err == nil {
			s.MarkConnected()
			return
		}
		logger.Debugf("gateway: reconnect probe failed (attempt=%d): %v", attempt, err)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *connState) safePing(ctx context.Context) (err error) {
	if s.client == nil {
		return net.ErrClosed
	}
	defer func() {
		if r := recover(); r != nil {
			err = net.ErrClosed
		}
	}()
	_, err = s.client.Self(ctx)
	return err
}

// isNetworkError сообщает, указывает ли err на транспортный сбой, а не на прикладную ошибку.
func isNetworkError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, pool.ErrConnDead) || errors.Is(err, rpc.ErrEngineClosed) {
		return true
	}
	var retryErr *rpc.RetryLimitReachedErr
	if errors.As(err, &retryErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
