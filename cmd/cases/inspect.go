package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/damnfork/cases/internal/searcher/service"
)

func statsCommand() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print the number of stored cases",
		Action: func(ctx context.Context, c *cli.Command) error {
			return withService(c, func(svc *service.Service) error {
				return printJSON(svc.Stats(ctx))
			})
		},
	}
}

func caseCommand() *cli.Command {
	return &cli.Command{
		Name:      "case",
		Usage:     "Print one case record",
		ArgsUsage: "<id>",
		Action: func(ctx context.Context, c *cli.Command) error {
			raw := c.Args().First()
			id, err := strconv.ParseUint(raw, 10, 32)
			if err != nil {
				return fmt.Errorf("invalid case id %q", raw)
			}
			return withService(c, func(svc *service.Service) error {
				rec, err := svc.Case(ctx, uint32(id))
				if err != nil {
					return err
				}
				return printJSON(rec)
			})
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Run a query and print the hydrated page",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "offset", Usage: "Ranked results to skip"},
			&cli.IntFlag{Name: "limit", Usage: "Page size", Value: -1},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			text := strings.Join(c.Args().Slice(), " ")
			return withService(c, func(svc *service.Service) error {
				limit := c.Int("limit")
				if limit < 0 {
					limit = svc.DefaultLimit()
				}
				resp, err := svc.Search(ctx, service.Query{Text: text, Offset: c.Int("offset"), Limit: limit})
				if err != nil {
					return err
				}
				return printJSON(resp)
			})
		},
	}
}

func withService(c *cli.Command, fn func(*service.Service) error) error {
	cfg, closeLog, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer closeLog()

	b, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	cfg.Search.Diagnostics = true
	return fn(b.service(cfg))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
