// Экстракторы ожиданий для троттлера: преобразуют FLOOD_WAIT (как нашу типизированную
// ошибку, так и сырую ошибку gotd) в длительность паузы перед повтором.
package gateway

import (
	"errors"
	rand "math/rand/v2"
	"time"

	"github.com/SWORDIntel/spectra/internal/infra/throttle"

	"github.com/gotd/td/tgerr"
)

// floodWaitJitterMax — верхняя граница случайного джиттера поверх обязательного
// FLOOD_WAIT. Добавка разносит повторы разных воркеров во времени.
const floodWaitJitterMax = 3 * time.Second

// FloodWaitExtractor создаёт throttle.WaitExtractor, распознающий FLOOD_WAIT —
// и как *FloodWaitError после classifyRPCError, и как сырую ошибку tgerr из
// недоклассифицированных путей. Возвращает (пауза + джиттер, true) либо (0, false).
func FloodWaitExtractor() throttle.WaitExtractor {
	return func(err error) (time.Duration, bool) {
		if err == nil {
			return 0, false
		}

		var fw *FloodWaitError
		if errors.As(err, &fw) {
			return time.Duration(fw.Seconds)*time.Second + nextFloodWaitJitter(), true
		}

		if wait, ok := tgerr.AsFloodWait(err); ok {
			return wait + nextFloodWaitJitter(), true
		}
		return 0, false
	}
}

// nextFloodWaitJitter возвращает случайную добавку из [0, floodWaitJitterMax).
// math/rand/v2 потокобезопасен, отдельный RNG не требуется.
func nextFloodWaitJitter() time.Duration {
	sec := int(floodWaitJitterMax / time.Second)
	if sec <= 0 {
		return 0
	}
	return time.Duration(rand.IntN(sec)) * time.Second // #nosec G404
}
