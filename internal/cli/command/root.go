package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/dagnode/internal/infra/buildinfo"
	"github.com/yndnr/dagnode/internal/infra/confloader"
	"github.com/yndnr/dagnode/internal/server/config"
)

// App creates the dagnode application. Without a command it runs the node.
func App() *cli.App {
	return &cli.App{
		Name:    "dagnode",
		Usage:   "DAG ledger full node",
		Version: buildinfo.String(),
		Flags:   globalFlags(),
		Commands: []*cli.Command{
			RunCommand(),
			ConfigCommand(),
			VersionCommand(),
		},
		Action: runNode,
	}
}

// globalFlags returns the flags available to every command. All but
// --config override the matching configuration key when set.
func globalFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "config",
			Aliases: []string{"c"},
			Usage:   "Path to the YAML configuration file",
			EnvVars: []string{"DAGNODE_CONFIG"},
		},
		&cli.StringFlag{
			Name:  "data-dir",
			Usage: "Storage directory (storage.data_dir)",
		},
		&cli.BoolFlag{
			Name:  "test-mode",
			Usage: "Enable test-only behavior (node.test_mode)",
		},
		&cli.BoolFlag{
			Name:  "mining",
			Usage: "Mine blocks (mining.enabled)",
		},
		&cli.StringFlag{
			Name:  "author",
			Usage: "Mining reward address, 40 hex digits without 0x (mining.author)",
		},
		&cli.StringFlag{
			Name:  "log-level",
			Usage: "Log level: debug, info, warn, error (log.level)",
		},
	}
}

// flagKeys maps override flags to configuration keys.
var flagKeys = map[string]string{
	"data-dir":  "storage.data_dir",
	"test-mode": "node.test_mode",
	"mining":    "mining.enabled",
	"author":    "mining.author",
	"log-level": "log.level",
}

// overrides collects the flags the user set.
func overrides(c *cli.Context) map[string]any {
	out := make(map[string]any)
	for flag, key := range flagKeys {
		if !c.IsSet(flag) {
			continue
		}
		switch flag {
		case "test-mode", "mining":
			out[key] = c.Bool(flag)
		default:
			out[key] = c.String(flag)
		}
	}
	return out
}

// loadConfig layers the config file, DAGNODE_ variables and flag
// overrides over the defaults. It does not verify the result.
func loadConfig(c *cli.Context) (*config.NodeConfig, error) {
	opts := []confloader.Option{confloader.WithOverrides(overrides(c))}
	if path := c.String("config"); path != "" {
		opts = append(opts, confloader.WithConfigFile(path))
	}

	cfg := config.Default()
	if err := confloader.NewLoader(opts...).Load(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
