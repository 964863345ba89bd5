// Command pidgin runs AI-to-AI conversation experiments.
//
// Usage:
//
//	pidgin run experiment.yaml
//	pidgin status --follow <experiment-id>
//	pidgin stop <experiment-id>
//	pidgin branch <parent.jsonl> --turn 3 --config experiment.yaml
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"

	"github.com/pidginlab/pidgin/pkg/config"
	"github.com/pidginlab/pidgin/pkg/logger"
)

// CLI defines the command-line interface.
type CLI struct {
	Run      RunCmd      `cmd:"" help:"Start an experiment in the background."`
	Stop     StopCmd     `cmd:"" help:"Stop a running experiment gracefully."`
	StopAll  StopAllCmd  `cmd:"" name:"stop-all" help:"Stop every running experiment."`
	Status   StatusCmd   `cmd:"" help:"Show experiment status."`
	Branch   BranchCmd   `cmd:"" help:"Branch a new conversation from a parent's history."`
	Validate ValidateCmd `cmd:"" help:"Validate an experiment config."`
	Schema   SchemaCmd   `cmd:"" help:"Generate the JSON Schema for experiment configs."`
	Version  VersionCmd  `cmd:"" help:"Show version information."`
	Daemon   DaemonCmd   `cmd:"" hidden:"" help:"Internal daemon entrypoint."`

	Root     string `help:"Experiments root directory." default:"./pidgin_output" type:"path"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("pidgin"),
		kong.Description("Pidgin - AI-to-AI conversation experiment engine"),
		kong.UsageOnError(),
	)

	logger.Init(logger.ParseLevel(cli.LogLevel), os.Stderr, "simple")

	if err := config.LoadEnvFiles(); err != nil {
		slog.Warn("env file load failed", "error", err)
	}

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	fmt.Printf("pidgin version %s\n", Version)
	return nil
}
