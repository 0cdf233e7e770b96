package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/ledger"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// PlaylistLookup is implemented by source clients that can describe a playlist before linking it.
type PlaylistLookup interface {
	Playlist(ctx context.Context, sourcePlaylistID string) (*services.SourcePlaylist, error)
}

// Runner holds all dependencies for CLI commands and provides methods for each command action.
type Runner struct {
	config       *shared.Config
	configPath   string
	store        *repositories.Store
	ledger       *ledger.Ledger
	orchestrator *tasks.Orchestrator
	source       services.SourceClient
	httpClient   *http.Client
	logger       *log.Logger
	output       io.Writer
	openBrowser  func(string) error
}

// RunnerOpts contains configuration options for creating a Runner.
//
// Orchestrator may be nil when Spotify credentials are missing; sync commands then fail with
// [shared.ErrNotAuthenticated] while history and match listings keep working.
type RunnerOpts struct {
	Config       *shared.Config
	ConfigPath   string
	Store        *repositories.Store
	Orchestrator *tasks.Orchestrator
	Source       services.SourceClient
	HTTPClient   *http.Client
	Logger       *log.Logger
	Output       io.Writer
	OpenBrowser  func(string) error
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Config == nil {
		opts.Config = shared.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.OpenBrowser == nil {
		opts.OpenBrowser = shared.OpenBrowser
	}

	r := &Runner{
		config:       opts.Config,
		configPath:   opts.ConfigPath,
		store:        opts.Store,
		orchestrator: opts.Orchestrator,
		source:       opts.Source,
		httpClient:   opts.HTTPClient,
		logger:       opts.Logger,
		output:       opts.Output,
		openBrowser:  opts.OpenBrowser,
	}
	if opts.Orchestrator != nil {
		r.ledger = opts.Orchestrator.Ledger()
	} else if opts.Store != nil {
		r.ledger = ledger.New(opts.Store.Operations, opts.Logger)
	}
	return r
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, playlistCommand, syncCommand, matchCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

func (r *Runner) requireStore() error {
	if r.store == nil {
		return fmt.Errorf("%w: database not initialized, run 'ytsync setup database'", shared.ErrMissingConfig)
	}
	return nil
}

func (r *Runner) requireOrchestrator() error {
	if err := r.requireStore(); err != nil {
		return err
	}
	if r.orchestrator == nil {
		return fmt.Errorf("%w: spotify credentials missing, run 'ytsync auth spotify'", shared.ErrNotAuthenticated)
	}
	return nil
}

// currentUser finds or creates the user named by the --email flag.
func (r *Runner) currentUser(ctx context.Context, cmd *cli.Command) (*models.User, error) {
	email := cmd.String("email")
	if email == "" {
		return nil, fmt.Errorf("%w: --email", shared.ErrMissingArgument)
	}
	return r.store.Users.FindOrCreate(ctx, email, cmd.String("name"))
}

// resolvePlaylist accepts a playlist id or, for the current user, a linked YouTube playlist id.
func (r *Runner) resolvePlaylist(ctx context.Context, cmd *cli.Command, ref string) (*models.Playlist, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: playlist", shared.ErrMissingArgument)
	}

	p, err := r.store.Playlists.Get(ctx, ref)
	if err == nil || !errors.Is(err, shared.ErrNotFound) {
		return p, err
	}

	user, uerr := r.currentUser(ctx, cmd)
	if uerr != nil {
		return nil, err
	}
	return r.store.Playlists.GetBySource(ctx, user.ID(), ref)
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(append(output, '\n')); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	if _, err := fmt.Fprintf(r.output, format, args...); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}

func emailFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "email",
		Aliases: []string{"e"},
		Usage:   "Email of the user owning the playlists",
		Value:   "me@localhost",
		Sources: cli.EnvVars("YTSYNC_EMAIL"),
	}
}

func formatFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "format",
		Aliases: []string{"f"},
		Usage:   "Output format: text, csv or json",
		Value:   "text",
	}
}
