package command

import (
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dagnode/internal/core/domain"
	"github.com/yndnr/dagnode/internal/infra/buildinfo"
	"github.com/yndnr/dagnode/internal/infra/shutdown"
	"github.com/yndnr/dagnode/internal/node"
	"github.com/yndnr/dagnode/internal/server/config"
	"github.com/yndnr/dagnode/internal/telemetry/logger"
)

// Process exit codes.
const (
	exitFailure = 1
	exitConfig  = 2
	exitUsage   = 64
)

// RunCommand starts the node and blocks until it is asked to exit.
func RunCommand() *cli.Command {
	return &cli.Command{
		Name:   "run",
		Usage:  "Start the node (default command)",
		Action: runNode,
	}
}

func runNode(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("load configuration: %v", err), exitConfig)
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Log.Level,
		Format:    cfg.Log.Format,
		AddSource: cfg.Log.AddSource,
		Output:    c.App.ErrWriter,
	})
	if err != nil {
		return cli.Exit(fmt.Sprintf("init logger: %v", err), exitConfig)
	}
	logger.SetDefault(log)

	log.Info("dagnode starting",
		"version", buildinfo.Version,
		"commit", buildinfo.Commit,
		"config", c.String("config"))
	log.Debug("effective configuration", "config", config.Sanitize(cfg))

	if path := c.String("config"); path != "" {
		w, err := watchLogLevel(path, overrides(c), log.Slog())
		if err != nil {
			log.Warn("log level reload disabled", "error", err)
		} else {
			defer w.Stop()
		}
	}

	exit := shutdown.NewSignal()
	h, err := node.Start(cfg, exit, node.WithLogger(log.Slog()))
	if err != nil {
		return cli.Exit(fmt.Sprintf("start node: %v", err), exitCode(err))
	}

	if outcome := node.RunUntilClosed(exit, h); outcome == node.ReleaseTimedOut {
		log.Warn("exiting with storage still held; the database may need recovery on next start")
	}
	return nil
}

// exitCode separates configuration mistakes from runtime failures.
func exitCode(err error) int {
	if errors.Is(err, domain.ErrConfiguration) || errors.Is(err, domain.ErrMiningConfig) {
		return exitConfig
	}
	return exitFailure
}
