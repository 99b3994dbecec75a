package command

import (
	"log/slog"

	"github.com/yndnr/dagnode/internal/infra/confloader"
	"github.com/yndnr/dagnode/internal/server/config"
	"github.com/yndnr/dagnode/internal/telemetry/logger"
)

// watchLogLevel applies log.level whenever the config file changes.
// Other keys take effect on the next start.
func watchLogLevel(path string, flags map[string]any, log *slog.Logger) (*confloader.Watcher, error) {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(log))
	if err != nil {
		return nil, err
	}
	if err := w.Watch(path); err != nil {
		w.Stop()
		return nil, err
	}
	w.OnChange(func(string) {
		reloadLogLevel(path, flags, log)
	})
	w.StartAsync()
	return w, nil
}

// reloadLogLevel re-reads the configuration with the same precedence as
// startup, so environment and flag values still win over the file.
func reloadLogLevel(path string, flags map[string]any, log *slog.Logger) {
	cfg := config.Default()
	loader := confloader.NewLoader(
		confloader.WithConfigFile(path),
		confloader.WithOverrides(flags),
	)
	if err := loader.Load(cfg); err != nil {
		log.Warn("config reload failed", "path", path, "error", err)
		return
	}

	if cfg.Log.Level == logger.GetLevel() {
		return
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		log.Warn("config reload: invalid log level", "level", cfg.Log.Level, "error", err)
		return
	}
	log.Info("log level changed", "level", cfg.Log.Level)
}
