package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"saferoute/internal/auth"
	"saferoute/internal/logging"
	"saferoute/internal/models"
)

// Config holds all service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Cache       CacheConfig       `yaml:"cache"`
	Auth        AuthConfig        `yaml:"auth"`
	Geocoding   GeocodingConfig   `yaml:"geocoding"`
	Routing     RoutingConfig     `yaml:"routing"`
	Geolocation GeolocationConfig `yaml:"geolocation"`
	Mail        MailConfig        `yaml:"mail"`
	SOS         SOSConfig         `yaml:"sos"`
	Map         MapConfig         `yaml:"map"`
	Log         logging.Config    `yaml:"log"`
}

// ServerConfig holds HTTP listener settings
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
	// RateLimit uses the limiter "<limit>-<period>" format, e.g. "120-M"
	RateLimit string `yaml:"rate_limit"`
	// TrustProxy keys the limiter on X-Forwarded-For / X-Real-IP; enable
	// only behind a reverse proxy that sets them
	TrustProxy bool `yaml:"trust_proxy"`
}

// DatabaseConfig selects the contact/report store
type DatabaseConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	Path   string `yaml:"path"`
	URL    string `yaml:"url"`
}

// CacheConfig selects the shared cache backend
type CacheConfig struct {
	Type            string        `yaml:"type"` // local | redis
	RedisURL        string        `yaml:"redis_url"`
	DefaultTTL      time.Duration `yaml:"default_ttl"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// AuthConfig configures session token verification
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
	Issuer    string `yaml:"issuer"`
}

// GeocodingConfig configures the Nominatim client
type GeocodingConfig struct {
	BaseURL           string        `yaml:"base_url"`
	UserAgent         string        `yaml:"user_agent"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// RoutingConfig configures the primary and fallback routing services
type RoutingConfig struct {
	PrimaryURL  string        `yaml:"primary_url"`
	FallbackURL string        `yaml:"fallback_url"`
	Profile     string        `yaml:"profile"`
	Timeout     time.Duration `yaml:"timeout"`
}

// GeolocationConfig configures position tracking
type GeolocationConfig struct {
	IPLocateURL string        `yaml:"ip_locate_url"`
	FixTimeout  time.Duration `yaml:"fix_timeout"`
	Timeout     time.Duration `yaml:"timeout"`
}

// MailConfig selects and configures the outbound mailer
type MailConfig struct {
	Provider     string `yaml:"provider"` // resend | smtp | log
	From         string `yaml:"from"`
	ResendAPIKey string `yaml:"resend_api_key"`
	ResendURL    string `yaml:"resend_url"`
	SMTPAddr     string `yaml:"smtp_addr"`
	SMTPUsername string `yaml:"smtp_username"`
	SMTPPassword string `yaml:"smtp_password"`
}

// SOSConfig tunes the SOS fan-out
type SOSConfig struct {
	Cooldown       time.Duration `yaml:"cooldown"`
	MaxConcurrency int           `yaml:"max_concurrency"`
}

// MapConfig holds client-facing map settings and the static safety zones
type MapConfig struct {
	TileURL     string              `yaml:"tile_url"`
	Attribution string              `yaml:"attribution"`
	Zones       []models.SafetyZone `yaml:"zones"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
			RateLimit:    "120-M",
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			Path:   "data/saferoute.db",
		},
		Cache: CacheConfig{
			Type:            "local",
			DefaultTTL:      10 * time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Geocoding: GeocodingConfig{
			BaseURL:           "https://nominatim.openstreetmap.org",
			UserAgent:         "SafeRoute/1.0",
			RequestsPerSecond: 1,
			Timeout:           10 * time.Second,
			CacheTTL:          24 * time.Hour,
		},
		Routing: RoutingConfig{
			PrimaryURL:  "https://router.project-osrm.org",
			FallbackURL: "https://routing.openstreetmap.de/routed-car",
			Profile:     "driving",
			Timeout:     20 * time.Second,
		},
		Geolocation: GeolocationConfig{
			IPLocateURL: "https://ipapi.co",
			FixTimeout:  10 * time.Second,
			Timeout:     5 * time.Second,
		},
		Mail: MailConfig{
			Provider:  "log",
			From:      "SafeRoute SOS <onboarding@resend.dev>",
			ResendURL: "https://api.resend.com",
		},
		SOS: SOSConfig{
			Cooldown:       30 * time.Second,
			MaxConcurrency: 8,
		},
		Map: MapConfig{
			TileURL:     "https://{s}.tile.openstreetmap.org/{z}/{x}/{y}.png",
			Attribution: "&copy; OpenStreetMap contributors",
			Zones:       DefaultZones(),
		},
		Log: logging.Config{Level: "info"},
	}
}

// DefaultZones returns the static placeholder safety zones
func DefaultZones() []models.SafetyZone {
	return []models.SafetyZone{
		{Center: models.Coordinates{Lat: 11.0168, Lng: 76.9558}, RadiusMeters: 500, Level: models.HighRisk},
		{Center: models.Coordinates{Lat: 11.0268, Lng: 76.9658}, RadiusMeters: 300, Level: models.MediumRisk},
		{Center: models.Coordinates{Lat: 11.0368, Lng: 76.9758}, RadiusMeters: 400, Level: models.Safe},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (if it
// exists), then .env, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	// .env is optional
	_ = godotenv.Load()

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if secret := strings.TrimSpace(c.Auth.JWTSecret); len(secret) < auth.MinSecretLength {
		if secret == "" {
			return errors.New("auth.jwt_secret is required (set AUTH_JWT_SECRET)")
		}
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", auth.MinSecretLength)
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database driver %q", c.Database.Driver)
	}

	switch c.Cache.Type {
	case "local":
	case "redis":
		if c.Cache.RedisURL == "" {
			return errors.New("cache.redis_url is required for redis cache")
		}
	default:
		return fmt.Errorf("unknown cache type %q", c.Cache.Type)
	}

	switch c.Mail.Provider {
	case "log":
	case "resend":
		if c.Mail.ResendAPIKey == "" {
			return errors.New("mail.resend_api_key is required for resend")
		}
	case "smtp":
		if c.Mail.SMTPAddr == "" {
			return errors.New("mail.smtp_addr is required for smtp")
		}
	default:
		return fmt.Errorf("unknown mail provider %q", c.Mail.Provider)
	}

	for i, z := range c.Map.Zones {
		if !z.Level.Valid() {
			return fmt.Errorf("map.zones[%d]: invalid level %q", i, z.Level)
		}
		if z.RadiusMeters <= 0 {
			return fmt.Errorf("map.zones[%d]: radius must be positive", i)
		}
	}
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Server.Addr, "SERVER_ADDR")
	setString(&cfg.Server.RateLimit, "RATE_LIMIT")
	setBool(&cfg.Server.TrustProxy, "TRUST_PROXY")

	setString(&cfg.Database.Path, "DATABASE_PATH")
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Database.Driver = "postgres"
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Cache.RedisURL = v
		cfg.Cache.Type = "redis"
	}

	setString(&cfg.Auth.JWTSecret, "AUTH_JWT_SECRET")
	setString(&cfg.Auth.Audience, "AUTH_AUDIENCE")
	setString(&cfg.Auth.Issuer, "AUTH_ISSUER")

	setString(&cfg.Geocoding.BaseURL, "NOMINATIM_URL")
	setString(&cfg.Routing.PrimaryURL, "OSRM_URL")
	setString(&cfg.Routing.FallbackURL, "OSRM_FALLBACK_URL")
	setString(&cfg.Geolocation.IPLocateURL, "IP_LOCATE_URL")

	if v := os.Getenv("RESEND_API_KEY"); v != "" {
		cfg.Mail.ResendAPIKey = v
		cfg.Mail.Provider = "resend"
	}
	if v := os.Getenv("SMTP_ADDR"); v != "" {
		cfg.Mail.SMTPAddr = v
		cfg.Mail.Provider = "smtp"
	}
	setString(&cfg.Mail.SMTPUsername, "SMTP_USERNAME")
	setString(&cfg.Mail.SMTPPassword, "SMTP_PASSWORD")
	setString(&cfg.Mail.From, "MAIL_FROM")

	setDuration(&cfg.SOS.Cooldown, "SOS_COOLDOWN")

	setString(&cfg.Log.Level, "LOG_LEVEL")
	setString(&cfg.Log.Filename, "LOG_FILENAME")
	setInt(&cfg.Log.MaxSize, "LOG_MAX_SIZE")
	setInt(&cfg.Log.MaxAge, "LOG_MAX_AGE")
	setInt(&cfg.Log.MaxBackups, "LOG_MAX_BACKUPS")
}

func setString(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
