package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"github.com/unkn0wn-root/gqlcache/config"
)

var (
	version = "dev"
	commit  = "unknown"
)

// Globals are flags shared by every command.
type Globals struct {
	Config string `help:"Config file." default:"gqlcache.yaml" type:"path" short:"c"`
}

// CLI is the top-level command structure for gqlcache.
type CLI struct {
	Globals

	Version kong.VersionFlag `help:"Show version." short:"V"`
	Replay  ReplayCmd        `cmd:"" help:"Replay a YAML script of cache operations."`
	Dump    DumpCmd          `cmd:"" help:"Print the persisted snapshot as JSON."`
}

// ReplayCmd runs a script against a fresh cache.
type ReplayCmd struct {
	Script string `arg:"" help:"Script file." type:"existingfile"`
}

func (c *ReplayCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	script, err := LoadScript(c.Script)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a, err := build(ctx, cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("replay: %w", err)
	}
	runErr := newRunner(a, os.Stdout).Run(ctx, script)
	// close first so queued hook events reach the metrics
	closeErr := a.Close(context.Background())
	if runErr != nil {
		return fmt.Errorf("replay: %w", runErr)
	}
	if closeErr != nil {
		return fmt.Errorf("replay: %w", closeErr)
	}
	if a.metrics != nil {
		return writeMetrics(os.Stdout, a.metrics)
	}
	return nil
}

// DumpCmd reads the persisted snapshot without restoring it.
type DumpCmd struct{}

func (c *DumpCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g.Config)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	ctx := context.Background()
	a, err := build(ctx, cfg, os.Stderr)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	defer a.Close(ctx)
	return dump(ctx, a, os.Stdout)
}

func dump(ctx context.Context, a *app, w io.Writer) error {
	if a.persist == nil {
		return errNoPersistence
	}
	snap, ok, err := a.persist.Read(ctx)
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if !ok {
		return fmt.Errorf("dump: no snapshot under %q", a.persist.Key())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap.ToPlain())
}

// loadConfig loads the config file with env overrides.
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

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("gqlcache"),
		kong.Description("Normalized GraphQL cache with optimistic layers."),
		kong.Vars{"version": version + " " + commit},
	)
	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
