package commands

import (
	"github.com/urfave/cli/v3"
)

// NewApp builds the stepwise command tree. With no subcommand the server is
// started.
func NewApp(version string) *cli.Command {
	flags := &Flags{}

	app := &cli.Command{
		Name:      "stepwise",
		Usage:     "Track multi-step plans and serve them over HTTP",
		UsageText: "stepwise [global options] command [command options]",
		Description: `Stepwise records the status, timing and ordering of plan steps that are
executed elsewhere. It serves plans over HTTP and persists them across restarts.

Run 'stepwise' with no arguments to start the server.`,
		Version:        version,
		DefaultCommand: "serve",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to YAML config file",
				Sources:     cli.EnvVars("STEPWISE_CONFIG"),
				Destination: &flags.ConfigPath,
			},
		},
	}

	app = NewServeCmd(flags).Register(app)
	app = NewTodoCmd(flags).Register(app)
	app = NewValidateCmd(flags).Register(app)
	return app
}
