package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/lease"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/tasks"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := shared.NewLogger(nil)
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env", "error", err)
	}

	runner := NewRunner(RunnerOpts{Logger: logger})
	var closers []io.Closer

	app := &cli.Command{
		Name:    "ytsync",
		Usage:   "Keep Spotify playlists in sync with YouTube playlists",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("YTSYNC_CONFIG"),
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Debug logging and per-item detail in reports",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			if cmd.Bool("verbose") {
				shared.SetLogLevel(logger, log.DebugLevel)
			}
			opts, c, err := bootstrap(ctx, cmd.String("config"), logger)
			if err != nil {
				return ctx, err
			}
			closers = c
			*runner = *NewRunner(opts)
			return ctx, nil
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			for i := len(closers) - 1; i >= 0; i-- {
				if err := closers[i].Close(); err != nil {
					logger.Warn("cleanup failed", "error", err)
				}
			}
			return nil
		},
		Commands: runner.register(),
	}

	if err := app.Run(ctx, os.Args); err != nil {
		logger.Fatalf("application error: %v", err)
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

// bootstrap loads configuration and builds every dependency the commands share.
//
// A missing config file falls back to defaults. The database is only opened once it exists, so
// "setup" commands run on a fresh checkout. Missing Spotify tokens leave the orchestrator nil.
func bootstrap(ctx context.Context, configPath string, logger *log.Logger) (RunnerOpts, []io.Closer, error) {
	opts := RunnerOpts{ConfigPath: configPath, Logger: logger, HTTPClient: http.DefaultClient}

	config, err := shared.LoadConfig(configPath)
	switch {
	case errors.Is(err, shared.ErrMissingConfig):
		logger.Debug("config file not found, using defaults", "path", configPath)
		config = shared.DefaultConfig()
	case err != nil:
		return opts, nil, err
	}
	if err := config.ApplyEnv(os.LookupEnv); err != nil {
		return opts, nil, err
	}
	if err := config.Validate(); err != nil {
		return opts, nil, err
	}
	opts.Config = config

	var closers []io.Closer
	if !shared.IsMemory(config.Database.Path) {
		if _, err := os.Stat(config.Database.Path); errors.Is(err, os.ErrNotExist) {
			logger.Debug("database not initialized", "path", config.Database.Path)
			return opts, closers, nil
		}
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return opts, closers, fmt.Errorf("failed to open database: %w", err)
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
	closers = append(closers, db)
	opts.Store = repositories.NewStore(db)

	youtube := services.NewYouTubeClient(config.Credentials.YouTube, opts.HTTPClient)
	opts.Source = youtube

	spotify, err := services.NewSpotifyClient(ctx, config.Credentials.Spotify,
		services.WithHTTPClient(opts.HTTPClient),
		services.WithCandidateLimit(config.Sync.CandidateLimit),
	)
	if err != nil {
		logger.Debug("spotify client unavailable", "error", err)
		return opts, closers, nil
	}

	locker, release, err := lease.New(ctx, config.Redis)
	if err != nil {
		return opts, closers, err
	}
	closers = append(closers, closerFunc(release))

	opts.Orchestrator = tasks.NewOrchestrator(opts.Store, youtube, spotify, config.Sync, logger, tasks.WithLocker(locker))
	return opts, closers, nil
}
