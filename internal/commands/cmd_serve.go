package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/seantiz/stepwise/internal/api"
	"github.com/seantiz/stepwise/internal/config"
	"github.com/seantiz/stepwise/internal/engine"
	"github.com/seantiz/stepwise/internal/store"
)

// ServeCmd implements the stepwise serve command.
type ServeCmd struct {
	flags *Flags

	listen  string
	imports []string
}

// NewServeCmd creates a new serve command.
func NewServeCmd(flags *Flags) *ServeCmd {
	return &ServeCmd{flags: flags}
}

// Register adds the serve command to the application.
func (cmd *ServeCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "serve",
		Usage:     "Run the HTTP server",
		UsageText: "stepwise serve [--listen <addr>] [--import <glob>]...",
		Description: `Restores persisted plans, imports any requested plan documents and serves
the HTTP API until interrupted.

Plans matching import_glob are imported only when the store restored nothing.
Plans given with --import are imported on every start.

Examples:
  stepwise serve
  stepwise serve --listen :9090
  stepwise serve --import 'seed/**/*.json'`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "listen",
				Aliases:     []string{"l"},
				Usage:       "listen address (overrides listen_addr)",
				Destination: &cmd.listen,
			},
			&cli.StringSliceFlag{
				Name:        "import",
				Aliases:     []string{"i"},
				Usage:       "glob of plan documents to import at startup",
				Destination: &cmd.imports,
			},
		},
		Action: cmd.run,
	})
	return app
}

func (cmd *ServeCmd) run(ctx context.Context, c *cli.Command) error {
	cfg, err := config.LoadFrom(cmd.flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cmd.listen != "" {
		cfg.ListenAddr = cmd.listen
	}
	logger := config.NewLogger(c.Root().Writer, cfg.LogLevel)

	logger.Info("stepwise: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"plan_dir", cfg.PlanDir,
	)

	eng, closeStore, err := cmd.openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := api.NewServer(cfg.ListenAddr, eng, cfg.PlanDir, logger)
	return srv.Run(ctx)
}

// openEngine builds the engine over the configured store, restores it and
// runs the startup imports. The returned func closes the store.
func (cmd *ServeCmd) openEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*engine.Engine, func(), error) {
	var (
		st        store.Store
		closeFunc = func() {}
	)
	if !cfg.MemoryOnly() {
		db, err := store.NewSQLiteStore(cfg.DBPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open database: %w", err)
		}
		st = db
		closeFunc = func() {
			if err := db.Close(); err != nil {
				logger.Error("failed to close database", "error", err)
			}
		}
	}

	eng := engine.NewEngine(st, logger, engine.WithFileTimeout(cfg.FileTimeout))

	restored, err := eng.Restore(ctx)
	if err != nil {
		closeFunc()
		return nil, nil, err
	}

	patterns := cmd.imports
	if cfg.ImportGlob != "" && restored == 0 {
		patterns = append(patterns, cfg.ImportGlob)
	}
	if len(patterns) > 0 {
		if err := importPlans(ctx, eng, patterns, logger); err != nil {
			closeFunc()
			return nil, nil, err
		}
	}
	return eng, closeFunc, nil
}

// importPlans loads every plan document matching patterns into eng. Files
// are read concurrently; the first failure aborts the rest.
func importPlans(ctx context.Context, eng *engine.Engine, patterns []string, logger *slog.Logger) error {
	paths, err := expandGlobs(patterns)
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, path := range paths {
		g.Go(func() error {
			p, err := eng.LoadFromFile(ctx, path)
			if err != nil {
				return err
			}
			logger.Debug("plan imported", "plan_id", p.ID, "path", path)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("import: %w", err)
	}

	logger.Info("plans imported", "count", len(paths))
	return nil
}
