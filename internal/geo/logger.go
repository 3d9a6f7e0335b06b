package geo

import (
	"sync"

	"github.com/ofo-tools/treecrown/internal/logger"
)

var (
	pkgLogger logger.Logger
	initOnce  sync.Once
)

// GetLogger returns the geo package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		pkgLogger = logger.Global().Module("geo")
	})
	return pkgLogger
}
