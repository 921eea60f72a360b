package testutil

import (
	"io"

	"github.com/mkarlsen/pacerelay/internal/logging"
)

// NullLogger returns a logger that discards all output
func NullLogger() *logging.Logger {
	return logging.NewWithWriter(logging.LevelError, io.Discard)
}
