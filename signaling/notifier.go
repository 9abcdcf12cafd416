package signaling

import (
	"github.com/rs/zerolog"
)

// invoke runs one listener callback, isolating panics so a faulty listener
// cannot break fan-out to the remaining ones.
func invoke(logger *zerolog.Logger, category string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Str("category", category).
				Any("panic", r).
				Msg("listener panicked during notification")
		}
	}()
	fn()
}
