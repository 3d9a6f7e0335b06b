package conf

import "github.com/ofo-tools/treecrown/internal/logger"

// GetLogger returns the config package logger. It is fetched from the global
// logger on each call because the central logger is built after Load.
func GetLogger() logger.Logger {
	return logger.Global().Module("config")
}
