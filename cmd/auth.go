package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/server"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
)

// authCommand handles Spotify authorization.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Manage authentication",
		Commands: []*cli.Command{
			{
				Name:  "spotify",
				Usage: "Authorize ytsync with Spotify and save the tokens to the config file",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "How long to wait for the browser callback",
						Value: 2 * time.Minute,
					},
				},
				Action: r.AuthSpotify,
			},
			{
				Name:   "status",
				Usage:  "Show which credentials are configured",
				Action: r.AuthStatus,
			},
		},
	}
}

// clientExchanger routes token exchanges through the runner's HTTP client.
type clientExchanger struct {
	config *oauth2.Config
	client *http.Client
}

func (e clientExchanger) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	return e.config.Exchange(context.WithValue(ctx, oauth2.HTTPClient, e.client), code, opts...)
}

// AuthSpotify runs the authorization code flow against a temporary callback server.
func (r *Runner) AuthSpotify(ctx context.Context, cmd *cli.Command) error {
	creds := r.config.Credentials.Spotify
	if !creds.HasClient() {
		return fmt.Errorf("%w: credentials.spotify client_id and client_secret", shared.ErrMissingCredentials)
	}

	config := services.SpotifyOAuthConfig(creds)
	redirect, err := url.Parse(config.RedirectURL)
	if err != nil || redirect.Host == "" {
		return fmt.Errorf("%w: redirect_uri %q", shared.ErrInvalidConfig, config.RedirectURL)
	}

	state := shared.GenerateID()
	handler := server.NewOAuthHandler(clientExchanger{config: config, client: r.httpClient}, state)
	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(r.logger))
	router.Handler(handler)

	srv, err := server.Listen(redirect.Host, router)
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(); err != nil {
			r.logger.Warn("error shutting down callback server", "error", err)
		}
	}()

	// Port 0 binds a free port; the redirect must name the real one.
	if _, port, _ := net.SplitHostPort(redirect.Host); port == "0" {
		redirect.Host = srv.Addr()
		config.RedirectURL = redirect.String()
	}

	authURL := config.AuthCodeURL(state, oauth2.AccessTypeOffline)
	r.logger.Info("waiting for spotify callback", "addr", srv.Addr())

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := r.openBrowser(authURL); err != nil {
		r.logger.Warn("failed to open browser automatically", "error", err)
		r.writePlain("⚠ Could not open browser automatically.\nPlease open this URL in your browser:\n%s\n\n", authURL)
	}

	timeout := cmd.Duration("timeout")
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	token, err := srv.Wait(ctx, handler, timeout)
	if err != nil {
		return fmt.Errorf("authorization failed: %w", err)
	}

	r.config.Credentials.Spotify.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		r.config.Credentials.Spotify.RefreshToken = token.RefreshToken
	}
	if err := shared.SaveConfig(r.configPath, r.config); err != nil {
		return err
	}

	r.logger.Info("spotify tokens saved", "path", r.configPath, "expiry", token.Expiry)
	return r.writePlain("✓ Spotify connected, tokens saved to %s\n", r.configPath)
}

// AuthStatus reports configured credentials without contacting either platform.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	sp := r.config.Credentials.Spotify
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}

	r.writePlainHeader("Credentials")
	r.writePlain("Spotify client:        %s\n", mark(sp.HasClient()))
	r.writePlain("Spotify refresh token: %s\n", mark(sp.RefreshToken != ""))
	r.writePlain("Spotify access token:  %s\n", mark(sp.AccessToken != ""))
	r.writePlain("YouTube proxy:         %s\n", r.config.Credentials.YouTube.ProxyURL)
	if r.orchestrator == nil {
		r.writePlain("\nSync is disabled until 'ytsync auth spotify' completes.\n")
	}
	return nil
}
