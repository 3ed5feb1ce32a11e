// Package config loads the service configuration.
//
// LAYERS (later wins):
//  1. Defaults compiled into defaultConfig()
//  2. A YAML file: $MAPMARKERS_CONFIG, else ./config.yaml or ./config.yml
//  3. Plain environment names kept for existing deployments (PORT, DB_PATH, JWT_SECRET, ...)
//  4. Prefixed environment names: MAPMARKERS_<SECTION>_<KEY>, e.g. MAPMARKERS_SERVER_PORT
//
// Every layer is read through knadh/koanf and unmarshalled into Config.
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/map-markers/internal/auth"
	"github.com/sakif/map-markers/internal/logging"
)

// PathEnvVar overrides the config file location.
const PathEnvVar = "MAPMARKERS_CONFIG"

const envPrefix = "MAPMARKERS_"

// DefaultPaths are searched in order when PathEnvVar is unset.
var DefaultPaths = []string{"config.yaml", "config.yml"}

type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Auth      AuthConfig      `koanf:"auth"`
	GitHub    GitHubConfig    `koanf:"github"`
	Geocoding GeocodingConfig `koanf:"geocoding"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
	// Requests per minute per client IP.
	LoginRateLimit   int `koanf:"login_rate_limit"`
	GeocodeRateLimit int `koanf:"geocode_rate_limit"`
}

type DatabaseConfig struct {
	Path string `koanf:"path"` // ":memory:" for a throwaway database
}

type AuthConfig struct {
	// An empty secret makes the server generate a random one at start-up,
	// so sessions do not survive a restart.
	JWTSecret     string        `koanf:"jwt_secret"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
	SecureCookies bool          `koanf:"secure_cookies"`
	BcryptCost    int           `koanf:"bcrypt_cost"`
	// Seeded on start-up when both are set and the account does not exist.
	AdminUsername string `koanf:"admin_username"`
	AdminPassword string `koanf:"admin_password"`
}

type GitHubConfig struct {
	ClientID     string `koanf:"client_id"`
	ClientSecret string `koanf:"client_secret"`
	CallbackURL  string `koanf:"callback_url"`
}

// Enabled reports whether GitHub login routes should be registered.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type GeocodingConfig struct {
	BaseURL           string        `koanf:"base_url"`
	UserAgent         string        `koanf:"user_agent"`
	SearchLanguage    string        `koanf:"search_language"`
	ReverseLanguage   string        `koanf:"reverse_language"`
	Timeout           time.Duration `koanf:"timeout"`
	RequestsPerSecond float64       `koanf:"requests_per_second"`
	Burst             int           `koanf:"burst"`
	BreakerFailures   int           `koanf:"breaker_failures"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// Addr is the listen address for http.Server.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "",
			Port:             8080,
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     15 * time.Second,
			IdleTimeout:      60 * time.Second,
			ShutdownTimeout:  30 * time.Second,
			CORSOrigins:      []string{"http://localhost:3000"},
			LoginRateLimit:   10,
			GeocodeRateLimit: 30,
		},
		Database: DatabaseConfig{
			Path: "data/markers.db",
		},
		Auth: AuthConfig{
			SessionTTL: 7 * 24 * time.Hour,
			BcryptCost: auth.DefaultCost,
		},
		Geocoding: GeocodingConfig{
			BaseURL:           "https://nominatim.openstreetmap.org",
			UserAgent:         "MapMarkersApp/1.0",
			SearchLanguage:    "ru",
			ReverseLanguage:   "en",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 1,
			Burst:             1,
			BreakerFailures:   5,
			BreakerTimeout:    30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Default returns the built-in configuration without reading files or env.
func Default() *Config {
	return defaultConfig()
}

// Load reads all layers and validates the result.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit YAML path. An empty path skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("config: loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: loading %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", legacyEnvKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}
	if err := k.Load(env.Provider(envPrefix, ".", prefixedEnvKey), nil); err != nil {
		return nil, fmt.Errorf("config: loading environment: %w", err)
	}

	if err := splitListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(PathEnvVar); p != "" {
		return p
	}
	for _, p := range DefaultPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var legacyEnvKeys = map[string]string{
	"PORT":                 "server.port",
	"DB_PATH":              "database.path",
	"JWT_SECRET":           "auth.jwt_secret",
	"ADMIN_USERNAME":       "auth.admin_username",
	"ADMIN_PASSWORD":       "auth.admin_password",
	"GITHUB_CLIENT_ID":     "github.client_id",
	"GITHUB_CLIENT_SECRET": "github.client_secret",
	"GITHUB_CALLBACK_URL":  "github.callback_url",
	"LOG_LEVEL":            "logging.level",
	"LOG_FORMAT":           "logging.format",
}

// legacyEnvKey maps the short names; "" tells koanf to skip the variable.
func legacyEnvKey(name string) string {
	return legacyEnvKeys[name]
}

// prefixedEnvKey turns MAPMARKERS_AUTH_JWT_SECRET into auth.jwt_secret.
// Section names contain no underscore, so the first one separates section and key.
func prefixedEnvKey(name string) string {
	rest := strings.ToLower(strings.TrimPrefix(name, envPrefix))
	section, key, ok := strings.Cut(rest, "_")
	if !ok || key == "" {
		return ""
	}
	return section + "." + key
}

var listFields = []string{"server.cors_origins"}

// splitListFields turns "a, b" from env into ["a", "b"].
func splitListFields(k *koanf.Koanf) error {
	for _, path := range listFields {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		parts := make([]string, 0)
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("config: setting %s: %w", path, err)
		}
	}
	return nil
}

// Validate checks ranges and cross-field rules.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}

	durations := map[string]time.Duration{
		"server.read_timeout":       c.Server.ReadTimeout,
		"server.write_timeout":      c.Server.WriteTimeout,
		"server.idle_timeout":       c.Server.IdleTimeout,
		"server.shutdown_timeout":   c.Server.ShutdownTimeout,
		"auth.session_ttl":          c.Auth.SessionTTL,
		"geocoding.timeout":         c.Geocoding.Timeout,
		"geocoding.breaker_timeout": c.Geocoding.BreakerTimeout,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}

	if c.Server.LoginRateLimit < 0 || c.Server.GeocodeRateLimit < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}

	if strings.TrimSpace(c.Database.Path) == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 16 {
		return fmt.Errorf("auth.jwt_secret must be at least 16 characters")
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d, got %d", bcrypt.MinCost, bcrypt.MaxCost, c.Auth.BcryptCost)
	}
	if (c.Auth.AdminUsername == "") != (c.Auth.AdminPassword == "") {
		return fmt.Errorf("auth.admin_username and auth.admin_password must be set together")
	}

	if (c.GitHub.ClientID == "") != (c.GitHub.ClientSecret == "") {
		return fmt.Errorf("github.client_id and github.client_secret must be set together")
	}

	if c.Geocoding.RequestsPerSecond <= 0 {
		return fmt.Errorf("geocoding.requests_per_second must be positive")
	}
	if c.Geocoding.Burst < 1 {
		return fmt.Errorf("geocoding.burst must be at least 1")
	}
	if c.Geocoding.BreakerFailures < 1 {
		return fmt.Errorf("geocoding.breaker_failures must be at least 1")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console", "text":
	default:
		return fmt.Errorf("logging.format must be json or console, got %q", c.Logging.Format)
	}

	return nil
}
