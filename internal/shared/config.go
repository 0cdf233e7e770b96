package shared

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Sync        SyncConfig        `toml:"sync"`
	Redis       RedisConfig       `toml:"redis"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify SpotifyConfig `toml:"spotify"`
	YouTube YouTubeConfig `toml:"youtube"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
	AccessToken  string `toml:"access_token"`
	RefreshToken string `toml:"refresh_token"`
	BaseURL      string `toml:"base_url"`
}

// HasClient reports whether a client id and secret are set. Values left at the
// "your_..." placeholders count as missing.
func (s SpotifyConfig) HasClient() bool {
	set := func(v string) bool {
		v = strings.TrimSpace(v)
		return v != "" && !strings.HasPrefix(v, "your_")
	}
	return set(s.ClientID) && set(s.ClientSecret)
}

// YouTubeConfig contains settings for the YouTube Music proxy used as the source platform.
type YouTubeConfig struct {
	ProxyURL string `toml:"proxy_url"`
	AuthFile string `toml:"auth_file"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// SyncConfig tunes the sync engine.
type SyncConfig struct {
	MatchThreshold float64       `toml:"match_threshold"`
	Workers        int           `toml:"workers"`
	Concurrency    int           `toml:"concurrency"` // playlists synced at once by "sync all"
	FetchTimeout   time.Duration `toml:"fetch_timeout"`
	ItemTimeout    time.Duration `toml:"item_timeout"`
	DestinationRPS float64       `toml:"destination_rps"`
	MaxRetries     int           `toml:"max_retries"`
	BackoffBase    time.Duration `toml:"backoff_base"`
	BackoffMax     time.Duration `toml:"backoff_max"`
	LeaseTTL       time.Duration `toml:"lease_ttl"`
	CandidateLimit int           `toml:"candidate_limit"`
}

// RedisConfig enables the distributed playlist lease.
type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Values missing from the file keep the embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrMissingConfig, path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveConfig writes config to path as TOML, replacing any existing file.
func SaveConfig(path string, config *Config) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(config); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ApplyEnv overrides secrets and connection settings from YTSYNC_* environment variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	str := map[string]*string{
		"YTSYNC_DATABASE_PATH":         &c.Database.Path,
		"YTSYNC_SPOTIFY_CLIENT_ID":     &c.Credentials.Spotify.ClientID,
		"YTSYNC_SPOTIFY_CLIENT_SECRET": &c.Credentials.Spotify.ClientSecret,
		"YTSYNC_SPOTIFY_ACCESS_TOKEN":  &c.Credentials.Spotify.AccessToken,
		"YTSYNC_SPOTIFY_REFRESH_TOKEN": &c.Credentials.Spotify.RefreshToken,
		"YTSYNC_YOUTUBE_PROXY_URL":     &c.Credentials.YouTube.ProxyURL,
		"YTSYNC_REDIS_ADDR":            &c.Redis.Addr,
		"YTSYNC_REDIS_PASSWORD":        &c.Redis.Password,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("YTSYNC_REDIS_ENABLED"); ok && v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: YTSYNC_REDIS_ENABLED=%q", ErrInvalidConfig, v)
		}
		c.Redis.Enabled = enabled
	}

	if v, ok := lookup("YTSYNC_SYNC_WORKERS"); ok && v != "" {
		workers, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: YTSYNC_SYNC_WORKERS=%q", ErrInvalidConfig, v)
		}
		c.Sync.Workers = workers
	}

	return nil
}

// Validate rejects settings the sync engine cannot run with.
func (c *Config) Validate() error {
	s := c.Sync
	switch {
	case c.Database.Path == "":
		return fmt.Errorf("%w: database.path is required", ErrInvalidConfig)
	case s.MatchThreshold < 0 || s.MatchThreshold > 1:
		return fmt.Errorf("%w: sync.match_threshold must be within [0,1], got %v", ErrInvalidConfig, s.MatchThreshold)
	case s.Workers < 1:
		return fmt.Errorf("%w: sync.workers must be at least 1", ErrInvalidConfig)
	case s.Concurrency < 1:
		return fmt.Errorf("%w: sync.concurrency must be at least 1", ErrInvalidConfig)
	case s.FetchTimeout <= 0 || s.ItemTimeout <= 0:
		return fmt.Errorf("%w: sync timeouts must be positive", ErrInvalidConfig)
	case s.DestinationRPS <= 0:
		return fmt.Errorf("%w: sync.destination_rps must be positive", ErrInvalidConfig)
	case s.MaxRetries < 0:
		return fmt.Errorf("%w: sync.max_retries must not be negative", ErrInvalidConfig)
	case s.BackoffBase <= 0 || s.BackoffMax < s.BackoffBase:
		return fmt.Errorf("%w: sync.backoff_max must be >= sync.backoff_base > 0", ErrInvalidConfig)
	case s.LeaseTTL <= 0:
		return fmt.Errorf("%w: sync.lease_ttl must be positive", ErrInvalidConfig)
	case c.Redis.Enabled && c.Redis.Addr == "":
		return fmt.Errorf("%w: redis.addr is required when redis is enabled", ErrInvalidConfig)
	}
	return nil
}
