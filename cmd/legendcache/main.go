// Command legendcache drives the legend engine against a synthetic host:
// bench prints a load report, serve exposes metrics and debug endpoints.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"go.uber.org/zap"

	"github.com/IvanBrykalov/legendcache/config"
	"github.com/IvanBrykalov/legendcache/internal/logging"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Globals are flags shared by every command.
type Globals struct {
	Config string `help:"Path to the YAML config file." default:"legendcache.yaml" type:"path"`
}

// CLI is the top-level command structure.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`
	Bench   BenchCmd         `cmd:"" help:"Run a synthetic workload and print a report."`
	Serve   ServeCmd         `cmd:"" help:"Serve metrics and debug endpoints over a synthetic workload."`
}

// loadConfig reads the config file, applies environment overrides and
// validates the result.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger, falling back to a no-op logger.
func newLogger() *zap.Logger {
	log, err := logging.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %s\n", err)
		return zap.NewNop()
	}
	return log
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("legendcache"),
		kong.Description("Legend symbol cache engine."),
		kong.Vars{"version": version + " " + commit + " " + date},
	)
	err := ctx.Run(&cli.Globals)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
