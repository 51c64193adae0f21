package testlog

import (
	"os"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var quietOnce sync.Once

// Start silences global logging for the test binary unless
// ROVERCTL_TEST_LOG is set, and tags the test name for attribution.
func Start(t *testing.T) {
	t.Helper()
	quietOnce.Do(func() {
		if os.Getenv("ROVERCTL_TEST_LOG") == "" {
			zerolog.SetGlobalLevel(zerolog.Disabled)
		}
	})
	log.Debug().Str("test", t.Name()).Msg("test start")
}
