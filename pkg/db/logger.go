package db

import (
	"gorm.io/gorm/logger"
)

// NewLogger bridges the CLI log level onto the gorm logger. SQL statement
// tracing only turns on at debug and below.
func NewLogger(level string) logger.Interface {
	switch level {
	case "trace":
		return logger.Default.LogMode(logger.Info)
	case "debug":
		return logger.Default.LogMode(logger.Warn)
	default:
		return logger.Default.LogMode(logger.Silent)
	}
}
