package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/urfave/cli/v2"

	"github.com/tbourn/unified-inbox/internal/config"
)

func feedsCommand() *cli.Command {
	return &cli.Command{
		Name:  "feeds",
		Usage: "Manage smart feeds offline",
		Subcommands: []*cli.Command{
			{
				Name:  "seed",
				Usage: "Create the feeds of a TOML file whose names are not taken yet",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "file",
						Aliases:  []string{"f"},
						Usage:    "Read feed definitions from `FILE`",
						Required: true,
					},
				},
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					a, err := newApp(c.Context, cfg)
					if err != nil {
						return err
					}
					defer a.close()
					n, err := a.seedFeeds(c.Context, c.String("file"))
					if err != nil {
						return err
					}
					fmt.Fprintf(c.App.Writer, "created %d feed(s)\n", n)
					return nil
				},
			},
			{
				Name:  "list",
				Usage: "Print every stored feed as JSON",
				Action: func(c *cli.Context) error {
					cfg, err := loadConfig()
					if err != nil {
						return err
					}
					a, err := newApp(c.Context, cfg)
					if err != nil {
						return err
					}
					defer a.close()
					feeds, err := a.feeds.List(c.Context)
					if err != nil {
						return err
					}
					return writeJSON(c.App.Writer, feeds)
				},
			},
		},
	}
}

func configCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Inspect configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "check",
				Usage: "Validate the environment and print the effective configuration",
				Action: func(c *cli.Context) error {
					cfg, err := config.Load()
					if err != nil {
						return fmt.Errorf("invalid configuration: %w", err)
					}
					if f := cfg.Feeds.SeedFile; f != "" {
						if _, err := config.LoadFeedSeeds(f, cfg.Feeds.MembershipThreshold); err != nil {
							return err
						}
					}
					return writeJSON(c.App.Writer, redacted(cfg))
				},
			},
		},
	}
}

// redacted blanks secrets before printing.
func redacted(cfg config.Config) config.Config {
	if cfg.Annotation.OpenAIKey != "" {
		cfg.Annotation.OpenAIKey = "***"
	}
	return cfg
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
