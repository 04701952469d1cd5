package testhelpers

import (
	"io"
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// SetupLogger discards global log output for the duration of the test, or
// writes it to the console when tests run verbosely. Log hooks still fire. The previous logger is
// restored afterwards.
func SetupLogger(t *testing.T) {
	t.Helper()

	previous := log.Logger
	t.Cleanup(func() {
		log.Logger = previous
	})

	if testing.Verbose() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).Level(zerolog.DebugLevel)
		return
	}

	log.Logger = zerolog.New(io.Discard).Level(zerolog.DebugLevel)
}
