package logging

import "sync/atomic"

var global atomic.Pointer[Logger]

func init() {
	global.Store(New(Config{Level: LevelInfo, Format: FormatJSON}))
}

// SetGlobal replaces the process-wide logger.
func SetGlobal(l *Logger) { global.Store(l) }

// Global returns the process-wide logger.
func Global() *Logger { return global.Load() }

// Warnf logs a warning with fields to the global logger.
func Warnf(msg string, fields map[string]any) { Global().Warnf(msg, fields) }

// Errorf logs an error with fields to the global logger.
func Errorf(msg string, fields map[string]any) { Global().Errorf(msg, fields) }
