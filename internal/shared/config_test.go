package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./ytsync.db" {
			t.Errorf("expected database path ./ytsync.db, got %s", config.Database.Path)
		}

		if config.Sync.MatchThreshold != 0.55 {
			t.Errorf("expected match threshold 0.55, got %v", config.Sync.MatchThreshold)
		}

		if config.Sync.Workers != 4 {
			t.Errorf("expected 4 workers, got %d", config.Sync.Workers)
		}

		if config.Sync.FetchTimeout != 30*time.Second {
			t.Errorf("expected fetch timeout 30s, got %v", config.Sync.FetchTimeout)
		}

		if config.Sync.BackoffBase != 500*time.Millisecond {
			t.Errorf("expected backoff base 500ms, got %v", config.Sync.BackoffBase)
		}

		if config.Credentials.YouTube.ProxyURL != "http://127.0.0.1:8080" {
			t.Errorf("expected youtube proxy URL http://127.0.0.1:8080, got %s", config.Credentials.YouTube.ProxyURL)
		}

		if config.Redis.Enabled {
			t.Error("redis should be disabled by default")
		}

		if sp := config.Credentials.Spotify; sp.ClientID != "" || sp.ClientSecret != "" || sp.HasClient() {
			t.Errorf("expected empty spotify client credentials, got %q / %q", sp.ClientID, sp.ClientSecret)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"

[sync]
match_threshold = 0.7
item_timeout = "2s"

[redis]
enabled = true
addr = "redis:6379"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Sync.MatchThreshold != 0.7 {
			t.Errorf("expected threshold 0.7, got %v", config.Sync.MatchThreshold)
		}
		if config.Sync.ItemTimeout != 2*time.Second {
			t.Errorf("expected item timeout 2s, got %v", config.Sync.ItemTimeout)
		}
		if config.Sync.Workers != 4 {
			t.Errorf("unset workers should keep default 4, got %d", config.Sync.Workers)
		}
		if !config.Redis.Enabled || config.Redis.Addr != "redis:6379" {
			t.Errorf("unexpected redis config: %+v", config.Redis)
		}
	})

	t.Run("LoadConfig Missing", func(t *testing.T) {
		_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
		if !errors.Is(err, ErrMissingConfig) {
			t.Errorf("expected ErrMissingConfig, got %v", err)
		}
	})

	t.Run("SaveConfig", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.toml")
		config := DefaultConfig()
		config.Credentials.Spotify.AccessToken = "access-1"
		config.Credentials.Spotify.RefreshToken = "refresh-1"

		if err := SaveConfig(configPath, config); err != nil {
			t.Fatalf("SaveConfig failed: %v", err)
		}

		loaded, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load saved config: %v", err)
		}
		if loaded.Credentials.Spotify.RefreshToken != "refresh-1" || loaded.Credentials.Spotify.AccessToken != "access-1" {
			t.Errorf("tokens not persisted: %+v", loaded.Credentials.Spotify)
		}
		if loaded.Sync.ItemTimeout != config.Sync.ItemTimeout {
			t.Errorf("expected item timeout %v, got %v", config.Sync.ItemTimeout, loaded.Sync.ItemTimeout)
		}

		if err := SaveConfig(filepath.Join(t.TempDir(), "missing", "config.toml"), config); err == nil {
			t.Error("expected error for missing directory")
		}
	})

	t.Run("ApplyEnv", func(t *testing.T) {
		config := DefaultConfig()
		env := map[string]string{
			"YTSYNC_SPOTIFY_CLIENT_SECRET": "from-env",
			"YTSYNC_REDIS_ENABLED":         "true",
			"YTSYNC_SYNC_WORKERS":          "8",
		}
		lookup := func(k string) (string, bool) {
			v, ok := env[k]
			return v, ok
		}

		if err := config.ApplyEnv(lookup); err != nil {
			t.Fatalf("ApplyEnv failed: %v", err)
		}
		if config.Credentials.Spotify.ClientSecret != "from-env" {
			t.Errorf("expected client secret from env, got %s", config.Credentials.Spotify.ClientSecret)
		}
		if !config.Redis.Enabled {
			t.Error("expected redis enabled from env")
		}
		if config.Sync.Workers != 8 {
			t.Errorf("expected 8 workers, got %d", config.Sync.Workers)
		}

		env["YTSYNC_SYNC_WORKERS"] = "many"
		if err := config.ApplyEnv(lookup); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	tc := []struct {
		name   string
		mutate func(*Config)
	}{
		{"threshold above one", func(c *Config) { c.Sync.MatchThreshold = 1.2 }},
		{"negative threshold", func(c *Config) { c.Sync.MatchThreshold = -0.1 }},
		{"zero workers", func(c *Config) { c.Sync.Workers = 0 }},
		{"zero item timeout", func(c *Config) { c.Sync.ItemTimeout = 0 }},
		{"backoff max below base", func(c *Config) { c.Sync.BackoffMax = time.Millisecond }},
		{"redis without addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.mutate(config)
			if err := config.Validate(); !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("expected ErrInvalidConfig, got %v", err)
			}
		})
	}
}

func TestSpotifyConfigHasClient(t *testing.T) {
	tc := []struct {
		name   string
		id     string
		secret string
		want   bool
	}{
		{"both set", "abc123", "s3cret", true},
		{"empty", "", "", false},
		{"missing secret", "abc123", "", false},
		{"blank id", "   ", "s3cret", false},
		{"placeholder id", "your_spotify_client_id", "s3cret", false},
		{"placeholder secret", "abc123", "your_spotify_client_secret", false},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			sp := SpotifyConfig{ClientID: tt.id, ClientSecret: tt.secret}
			if got := sp.HasClient(); got != tt.want {
				t.Errorf("HasClient() = %v, want %v", got, tt.want)
			}
		})
	}
}
