package log

import "context"

// nopLogger implements Logger but does nothing. Used as a safe default in
// tests and when callers pass no logger.
type nopLogger struct{}

func (n nopLogger) With(...any) Logger                           { return n }
func (nopLogger) Debug(context.Context, string, ...any)          {}
func (nopLogger) Info(context.Context, string, ...any)           {}
func (nopLogger) Warn(context.Context, string, ...any)           {}
func (nopLogger) Error(context.Context, error, string, ...any)   {}
func (nopLogger) Sync() error                                    { return nil }

// Nop returns a no-op Logger.
func Nop() Logger { return nopLogger{} }
