package delta

import (
	"github.com/rs/zerolog"
)

const maxLoggedPayload = 512

// Hooks receives parser diagnostics. All functions are optional.
type Hooks struct {
	// OnMalformed is called for every payload the parser had to skip.
	OnMalformed func(payload string, err error)
}

// SafeMalformed invokes OnMalformed if configured.
func (h *Hooks) SafeMalformed(payload string, err error) {
	if h != nil && h.OnMalformed != nil {
		h.OnMalformed(payload, err)
	}
}

// LogHooks reports skipped payloads as warnings on logger.
func LogHooks(logger zerolog.Logger) *Hooks {
	return &Hooks{
		OnMalformed: func(payload string, err error) {
			if len(payload) > maxLoggedPayload {
				payload = payload[:maxLoggedPayload] + "..."
			}
			logger.Warn().Err(err).Str("payload", payload).Msg("Skipping malformed stream payload")
		},
	}
}
