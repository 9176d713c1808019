package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/damnfork/cases/internal/loadgen"
)

func loadtestCommand() *cli.Command {
	return &cli.Command{
		Name:  "loadtest",
		Usage: "Drive search traffic against a running server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "url", Usage: "Base URL of the server", Value: "http://localhost:8080"},
			&cli.StringFlag{Name: "token", Usage: "API token sent as a Bearer credential", Sources: cli.EnvVars("CASES_TOKEN")},
			&cli.IntFlag{Name: "concurrency", Usage: "Concurrent workers", Value: 10},
			&cli.DurationFlag{Name: "duration", Usage: "How long to run", Value: 30 * time.Second},
			&cli.IntFlag{Name: "limit", Usage: "Page size per search", Value: 10},
			&cli.StringSliceFlag{Name: "query", Usage: "Query to send (repeatable); defaults to a built-in mix"},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg := loadgen.Config{
				BaseURL:     c.String("url"),
				Token:       c.String("token"),
				Concurrency: c.Int("concurrency"),
				Duration:    c.Duration("duration"),
				Limit:       c.Int("limit"),
				Queries:     c.StringSlice("query"),
			}
			fmt.Fprintf(os.Stderr, "loadtest: %s, %d workers for %s\n", cfg.BaseURL, cfg.Concurrency, cfg.Duration)
			rep, err := loadgen.Run(ctx, cfg)
			if err != nil {
				return err
			}
			return rep.Print(os.Stdout)
		},
	}
}
