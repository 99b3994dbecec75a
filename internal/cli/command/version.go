package command

import (
	"github.com/urfave/cli/v2"

	"github.com/yndnr/dagnode/internal/cli/output"
	"github.com/yndnr/dagnode/internal/infra/buildinfo"
)

// VersionCommand prints build information.
func VersionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print build information",
		Flags: []cli.Flag{outputFlag()},
		Action: func(c *cli.Context) error {
			format, err := output.ParseFormat(c.String("output"))
			if err != nil {
				return cli.Exit(err, exitUsage)
			}
			info := buildinfo.Get()
			if format == output.FormatTable {
				table := &output.Table{Headers: []string{"FIELD", "VALUE"}}
				table.AddRow("version", info.Version)
				table.AddRow("commit", info.Commit)
				table.AddRow("build_time", info.BuildTime)
				table.AddRow("go_version", info.GoVersion)
				return table.Render(c.App.Writer)
			}
			return output.NewFormatter(format).Format(c.App.Writer, info)
		},
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "output",
		Aliases: []string{"o"},
		Usage:   "Output format: table, json, yaml",
		Value:   string(output.FormatTable),
	}
}
