package gateway

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/SWORDIntel/spectra/internal/infra/logger"
	"github.com/SWORDIntel/spectra/internal/infra/storage"

	"github.com/go-faster/errors"
	tdsession "github.com/gotd/td/session"
)

// fileSessionStorage реализует tdsession.Storage поверх обычного файла с атомарной
// записью. Успешная запись сессии обычно следует за успешным логином, поэтому
// владеющий connState уведомляется о подключении.
type fileSessionStorage struct {
	path  string
	state *connState
	mux   sync.Mutex
}

var _ tdsession.Storage = (*fileSessionStorage)(nil)

func (f *fileSessionStorage) LoadSession(_ context.Context) ([]byte, error) {
	f.mux.Lock()
	defer f.mux.Unlock()

	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, tdsession.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "read session")
	}
	return data, nil
}

func (f *fileSessionStorage) StoreSession(_ context.Context, data []byte) error {
	f.mux.Lock()
	defer f.mux.Unlock()

	if err := storage.AtomicWriteFile(f.path, data); err != nil {
		return fmt.Errorf("atomic write session: %w", err)
	}
	if f.state != nil {
		logger.Debug("gateway: session stored, marking connected")
		f.state.MarkConnected()
	}
	return nil
}
