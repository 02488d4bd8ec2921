// Command inboxd serves the unified inbox API and its background pipeline.
//
//	@title			Unified Inbox API
//	@version		1.0
//	@description	Cross-channel customer inbox: identity resolution, threads, smart feeds and priority.
//	@BasePath		/api/v1
//	@accept			json
//	@produce		json
package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"

	"github.com/tbourn/unified-inbox/internal/config"
	"github.com/tbourn/unified-inbox/internal/sysutil"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := newCLI().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func newCLI() *cli.App {
	return &cli.App{
		Name:    "inboxd",
		Usage:   "Unified customer inbox across email, chat and messaging channels",
		Version: sysutil.ShortVersion(version),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "env-file",
				Aliases: []string{"e"},
				Usage:   "Load environment variables from `FILE` before reading configuration",
				Value:   ".env",
				EnvVars: []string{"INBOX_ENV_FILE"},
			},
		},
		Before: func(c *cli.Context) error {
			return loadEnvFile(c.String("env-file"))
		},
		Commands: []*cli.Command{
			serveCommand(),
			feedsCommand(),
			configCommand(),
		},
	}
}

// loadEnvFile applies path to the process environment without overriding
// variables that are already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load env file %s: %w", path, err)
	}
	return nil
}

// loadConfig reads the configuration and installs the global logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	sysutil.SetupLogger(cfg.LogLevel, cfg.LogPretty, nil)
	return cfg, nil
}
