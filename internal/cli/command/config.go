package command

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/yndnr/dagnode/internal/cli/output"
	"github.com/yndnr/dagnode/internal/server/config"
)

// ConfigCommand returns the config subcommand group.
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect the effective configuration",
		Subcommands: []*cli.Command{
			{
				Name:   "check",
				Usage:  "Load and verify the configuration, then print it with secrets masked",
				Flags:  []cli.Flag{outputFlag()},
				Action: configCheck,
			},
			{
				Name:   "show",
				Usage:  "Print the effective configuration without verifying it",
				Flags:  []cli.Flag{outputFlag()},
				Action: configShow,
			},
		},
	}
}

func configCheck(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("load configuration: %v", err), exitConfig)
	}
	if err := config.Verify(cfg); err != nil {
		return cli.Exit(err, exitConfig)
	}
	if err := config.VerifyMining(cfg); err != nil {
		return cli.Exit(err, exitConfig)
	}
	if cfg.Mining.Author != "" {
		if _, err := config.MiningAuthor(cfg); err != nil {
			return cli.Exit(err, exitConfig)
		}
	}
	return printConfig(c, cfg)
}

func configShow(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(fmt.Sprintf("load configuration: %v", err), exitConfig)
	}
	return printConfig(c, cfg)
}

func printConfig(c *cli.Context, cfg *config.NodeConfig) error {
	format, err := output.ParseFormat(c.String("output"))
	if err != nil {
		return cli.Exit(err, exitUsage)
	}
	m, err := config.ToMap(config.Sanitize(cfg))
	if err != nil {
		return err
	}
	return output.NewFormatter(format).Format(c.App.Writer, m)
}
