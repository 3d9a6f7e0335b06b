package detector

import (
	"sync"

	"github.com/ofo-tools/treecrown/internal/logger"
)

var (
	pkgLogger logger.Logger
	initOnce  sync.Once
)

// GetLogger returns the detector package logger.
func GetLogger() logger.Logger {
	initOnce.Do(func() {
		pkgLogger = logger.Global().Module("detector")
	})
	return pkgLogger
}
