package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/ZanzyTHEbar/babblebear/internal/docs"
)

var (
	name    = "babblebear"
	version = "v0.1.0-dev"
	commit  = ""

	configFlag = &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to the YAML config file (optional, environment overrides still apply)",
		EnvVars: []string{"BABBLEBEAR_CONFIG"},
	}

	debugFlag = &cli.BoolFlag{
		Name:  "debug",
		Usage: "Log at debug level regardless of the configured level",
	}
)

func main() {
	docs.SwaggerInfo.Version = version
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     name,
		Version:  fmt.Sprintf("%s - (commit: %s)", version, commit),
		Compiled: time.Now(),
		Usage:    "Dashboard backend for BabbleBear babble scores",
		Flags: []cli.Flag{
			configFlag,
			debugFlag,
		},
		Commands: []*cli.Command{
			serveCmd,
			tokenCmd,
		},
		// serving is the default
		Action: runServe,
	}
}
