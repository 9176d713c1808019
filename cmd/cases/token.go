package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/damnfork/cases/internal/auth/apikey"
	"github.com/damnfork/cases/pkg/postgres"
)

// tokenCommand manages API tokens in the Postgres directory. Running servers
// pick up changes on restart.
func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "Manage API tokens stored in Postgres",
		Commands: []*cli.Command{
			{
				Name:      "create",
				Usage:     "Create a token and print it once",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "rate-limit", Usage: "Requests per window", Value: 100},
					&cli.DurationFlag{Name: "ttl", Usage: "Expire the token after this long (0 = never)"},
				},
				Action: func(ctx context.Context, c *cli.Command) error {
					name := c.Args().First()
					if name == "" {
						return fmt.Errorf("token name is required")
					}
					if c.Int("rate-limit") <= 0 {
						return fmt.Errorf("rate-limit must be positive")
					}
					var expiresAt *time.Time
					if ttl := c.Duration("ttl"); ttl > 0 {
						t := time.Now().Add(ttl)
						expiresAt = &t
					}
					return withRepository(ctx, c, func(repo *apikey.Repository) error {
						raw, err := repo.Create(ctx, name, c.Int("rate-limit"), expiresAt)
						if err != nil {
							return err
						}
						fmt.Println(raw)
						return nil
					})
				},
			},
			{
				Name:      "revoke",
				Usage:     "Deactivate a token",
				ArgsUsage: "<token>",
				Action: func(ctx context.Context, c *cli.Command) error {
					raw := c.Args().First()
					if raw == "" {
						return fmt.Errorf("token is required")
					}
					return withRepository(ctx, c, func(repo *apikey.Repository) error {
						return repo.Revoke(ctx, raw)
					})
				},
			},
			{
				Name:  "list",
				Usage: "List active tokens",
				Action: func(ctx context.Context, c *cli.Command) error {
					return withRepository(ctx, c, func(repo *apikey.Repository) error {
						keys, err := repo.List(ctx)
						if err != nil {
							return err
						}
						tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
						fmt.Fprintln(tw, "ID\tNAME\tRATE LIMIT\tCREATED\tEXPIRES")
						for _, k := range keys {
							expires := "never"
							if k.ExpiresAt != nil {
								expires = k.ExpiresAt.Format(time.RFC3339)
							}
							fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
								k.ID, k.Name, k.RateLimit, k.CreatedAt.Format(time.RFC3339), expires)
						}
						return tw.Flush()
					})
				},
			},
		},
	}
}

func withRepository(ctx context.Context, c *cli.Command, fn func(*apikey.Repository) error) error {
	cfg, closeLog, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer closeLog()

	db, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(apikey.NewRepository(db))
}
