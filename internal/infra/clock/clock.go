// Package clock — текущее время в таймзоне приложения. До загрузки
// конфигурации (ранний бутстрап, тесты) отдаёт UTC.
package clock

import (
	"time"

	"github.com/SWORDIntel/spectra/internal/infra/config"
)

// Now возвращает текущее время в глобальной таймзоне приложения.
func Now() time.Time {
	if !config.Loaded() {
		return time.Now().UTC()
	}
	return time.Now().In(config.Env().Location())
}
