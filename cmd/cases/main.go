package main

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/damnfork/cases/pkg/config"
	"github.com/damnfork/cases/pkg/logger"
)

func main() {
	app := &cli.Command{
		Name:  "cases",
		Usage: "Full-text search over published court judgments",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Configuration file path",
				Value:   "configs/cases.yaml",
				Sources: cli.EnvVars("CASES_CONFIG"),
			},
		},
		Commands: []*cli.Command{
			serveCommand(),
			statsCommand(),
			caseCommand(),
			searchCommand(),
			tokenCommand(),
			loadtestCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "cases: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config named by the root --config flag and installs
// the process logger. A missing default config file is not an error.
func loadConfig(c *cli.Command) (*config.Config, func() error, error) {
	path := c.String("config")
	if !c.IsSet("config") {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			path = ""
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config: %w", err)
	}
	closeLog, err := logger.Setup(cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("setting up logging: %w", err)
	}
	return cfg, closeLog, nil
}
