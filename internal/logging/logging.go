// Package logging builds the process-wide go-kit logger, mirroring
// cmd/operator/main.go's setupLogger: logfmt over a synchronized stderr
// writer, a level filter, and ts/caller fields attached once at
// construction.
package logging

import (
	"os"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

var validLevels = []string{LevelDebug, LevelInfo, LevelWarn, LevelError}

// New builds a logfmt logger filtered to lvl, with ts and caller fields
// attached. An unrecognised level is a fatal configuration error.
func New(lvl string) (log.Logger, error) {
	logger := log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))

	switch lvl {
	case LevelDebug:
		logger = level.NewFilter(logger, level.AllowDebug())
	case LevelInfo:
		logger = level.NewFilter(logger, level.AllowInfo())
	case LevelWarn:
		logger = level.NewFilter(logger, level.AllowWarn())
	case LevelError:
		logger = level.NewFilter(logger, level.AllowError())
	default:
		return nil, errors.Errorf("log level %q unknown, must be one of (%s)", lvl, strings.Join(validLevels, ", "))
	}
	logger = log.With(logger, "ts", log.DefaultTimestampUTC)
	logger = log.With(logger, "caller", log.DefaultCaller)

	return logger, nil
}
