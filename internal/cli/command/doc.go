// Package command defines the dagnode command line using urfave/cli/v2:
//
//   - root.go: the application, global flags and flag overrides
//   - run.go: run, the default command
//   - config.go: config check and config show
//   - version.go: version
//   - reload.go: log level reload on config file changes
package command
