// Package logx provides the package-global structured logger shared by
// every subsystem in this module.
package logx

import (
	"os"

	"github.com/rs/zerolog"
)

// Logger is the shared logger instance. Other packages should use
// logx.Logger with additional context fields rather than importing
// zerolog directly.
var Logger zerolog.Logger

func init() {
	Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}
