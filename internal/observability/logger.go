package observability

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger returns the process logger tagged with the component and instance.
func Logger(component, instance string) zerolog.Logger {
	return log.With().Str("component", component).Str("instance", instance).Logger()
}
