package analysis

import (
	"sync"

	"github.com/ofo-tools/treecrown/internal/logger"
)

var (
	pkgLogger logger.Logger
	initOnce  sync.Once
)

// GetLogger returns the analysis package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		pkgLogger = logger.Global().Module("analysis")
	})
	return pkgLogger
}
