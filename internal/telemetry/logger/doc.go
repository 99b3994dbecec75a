// Package logger configures structured logging for dagnode.
//
// It builds a log/slog logger from configuration:
//
//   - logger.go: handler construction and the dynamic level
//   - redact.go: sensitive attribute redaction
//
// Subsystems receive a *slog.Logger and tag it with a "component"
// attribute. The level can change at runtime through SetLevel, which the
// configuration watcher calls when the config file changes.
package logger
