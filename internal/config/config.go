// Package config loads gateway configuration from an optional .env file,
// an optional gateway.yaml and the environment, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Platform backends.
const (
	BackendAppwrite = "appwrite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// MinJWTSecretLen is the shortest accepted signing secret, in bytes.
const MinJWTSecretLen = 32

type Server struct {
	Port           int
	CORSOrigins    []string
	RateLimitRPS   int
	MaxUploadBytes int64
}

type Platform struct {
	Backend           string
	Endpoint          string
	ProjectID         string
	APIKey            string
	DatabaseID        string
	ProfileCollection string
	SystemCollection  string
	BucketID          string
	PublicURL         string
}

type Auth struct {
	JWTSecret    string
	TokenTTL     time.Duration
	APIKeyPrefix string
}

type OAuthClient struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

type Email struct {
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	FromAddress  string
}

type Lock struct {
	Backend string
	TTL     time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

type Events struct {
	NATSURL       string
	SubjectPrefix string
	WebhookURL    string
	WebhookSecret string
}

// Health controls dependency probing for /readyz.
type Health struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

type Log struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Config is the complete gateway configuration.
type Config struct {
	Server      Server
	Platform    Platform
	Auth        Auth
	AdminSecret string
	FrontendURL string
	DatabaseURL string
	Google      OAuthClient
	Email       Email
	Lock        Lock
	Redis       Redis
	Events      Events
	Health      Health
	Log         Log
}

// legacyEnv maps keys to the environment names used by earlier deployments.
var legacyEnv = map[string]string{
	"platform.endpoint":           "APPWRITE_ENDPOINT",
	"platform.project_id":         "APPWRITE_PROJECT_ID",
	"platform.api_key":            "APPWRITE_API_KEY",
	"platform.database_id":        "DATABASE_ID",
	"platform.profile_collection": "COLLECTION_PROFILE",
	"platform.system_collection":  "COLLECTION_SYSTEM_DATA",
	"platform.bucket_id":          "BUCKET_ID",
	"auth.jwt_secret":             "JWT_SECRET",
	"frontend.url":                "FRONTEND_URL",
	"server.port":                 "PORT",
	"database.url":                "DATABASE_URL",
}

// Load reads configuration. configFile overrides the gateway.yaml search
// when non-empty. The result is validated.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("gateway")
		v.SetConfigType("yaml")
		v.AddConfigPath("configs")
		v.AddConfigPath(".")
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	for key, legacy := range legacyEnv {
		canonical := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, canonical, legacy); err != nil {
			return nil, fmt.Errorf("bind %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"https://pbsnet.pages.dev"})
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.max_upload_bytes", 5<<20)

	v.SetDefault("platform.backend", BackendAppwrite)
	v.SetDefault("platform.endpoint", "")
	v.SetDefault("platform.project_id", "")
	v.SetDefault("platform.api_key", "")
	v.SetDefault("platform.database_id", "central_db")
	v.SetDefault("platform.profile_collection", "user_profiles")
	v.SetDefault("platform.system_collection", "system_data")
	v.SetDefault("platform.bucket_id", "profile_pics")
	v.SetDefault("platform.public_url", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "168h")
	v.SetDefault("auth.api_key_prefix", "pbsnet")
	v.SetDefault("admin.secret", "")
	v.SetDefault("frontend.url", "https://pbsnet.pages.dev")
	v.SetDefault("database.url", "")

	v.SetDefault("oauth.google.client_id", "")
	v.SetDefault("oauth.google.client_secret", "")
	v.SetDefault("oauth.google.redirect_url", "")

	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.smtp_username", "")
	v.SetDefault("email.smtp_password", "")
	v.SetDefault("email.from_address", "noreply@pbsnet.local")

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", "10s")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("events.nats_url", "")
	v.SetDefault("events.subject_prefix", "pbsnet")
	v.SetDefault("events.webhook_url", "")
	v.SetDefault("events.webhook_secret", "")

	v.SetDefault("health.check_interval", "30s")
	v.SetDefault("health.probe_timeout", "5s")
	v.SetDefault("health.fail_threshold", 3)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{
		Server: Server{
			Port:           v.GetInt("server.port"),
			CORSOrigins:    v.GetStringSlice("server.cors_origins"),
			RateLimitRPS:   v.GetInt("server.rate_limit_rps"),
			MaxUploadBytes: v.GetInt64("server.max_upload_bytes"),
		},
		Platform: Platform{
			Backend:           strings.ToLower(v.GetString("platform.backend")),
			Endpoint:          strings.TrimRight(v.GetString("platform.endpoint"), "/"),
			ProjectID:         v.GetString("platform.project_id"),
			APIKey:            v.GetString("platform.api_key"),
			DatabaseID:        v.GetString("platform.database_id"),
			ProfileCollection: v.GetString("platform.profile_collection"),
			SystemCollection:  v.GetString("platform.system_collection"),
			BucketID:          v.GetString("platform.bucket_id"),
			PublicURL:         strings.TrimRight(v.GetString("platform.public_url"), "/"),
		},
		Auth: Auth{
			JWTSecret:    v.GetString("auth.jwt_secret"),
			TokenTTL:     v.GetDuration("auth.token_ttl"),
			APIKeyPrefix: v.GetString("auth.api_key_prefix"),
		},
		AdminSecret: v.GetString("admin.secret"),
		FrontendURL: strings.TrimRight(v.GetString("frontend.url"), "/"),
		DatabaseURL: v.GetString("database.url"),
		Google: OAuthClient{
			ClientID:     v.GetString("oauth.google.client_id"),
			ClientSecret: v.GetString("oauth.google.client_secret"),
			RedirectURL:  v.GetString("oauth.google.redirect_url"),
		},
		Email: Email{
			SMTPHost:     v.GetString("email.smtp_host"),
			SMTPPort:     v.GetInt("email.smtp_port"),
			SMTPUsername: v.GetString("email.smtp_username"),
			SMTPPassword: v.GetString("email.smtp_password"),
			FromAddress:  v.GetString("email.from_address"),
		},
		Lock: Lock{
			Backend: strings.ToLower(v.GetString("lock.backend")),
			TTL:     v.GetDuration("lock.ttl"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Events: Events{
			NATSURL:       v.GetString("events.nats_url"),
			SubjectPrefix: v.GetString("events.subject_prefix"),
			WebhookURL:    v.GetString("events.webhook_url"),
			WebhookSecret: v.GetString("events.webhook_secret"),
		},
		Health: Health{
			CheckInterval: v.GetDuration("health.check_interval"),
			ProbeTimeout:  v.GetDuration("health.probe_timeout"),
			FailThreshold: v.GetInt("health.fail_threshold"),
		},
		Log: Log{
			Level:      v.GetString("log.level"),
			File:       v.GetString("log.file"),
			MaxSizeMB:  v.GetInt("log.max_size_mb"),
			MaxBackups: v.GetInt("log.max_backups"),
			MaxAgeDays: v.GetInt("log.max_age_days"),
		},
	}

	// The managed platform's admin key doubles as the admin route secret.
	if cfg.AdminSecret == "" {
		cfg.AdminSecret = cfg.Platform.APIKey
	}
	if cfg.Platform.PublicURL == "" {
		if cfg.Platform.Backend == BackendAppwrite {
			cfg.Platform.PublicURL = cfg.Platform.Endpoint
		} else {
			cfg.Platform.PublicURL = fmt.Sprintf("http://localhost:%d/v1", cfg.Server.Port)
		}
	}
	if cfg.Google.RedirectURL == "" {
		cfg.Google.RedirectURL = cfg.FrontendURL + "/oauth-callback"
	}
	return cfg
}

// Validate reports every missing or malformed setting at once.
func (c *Config) Validate() error {
	var missing, invalid []string

	if c.Auth.JWTSecret == "" {
		missing = append(missing, "auth.jwt_secret")
	} else if len(c.Auth.JWTSecret) < MinJWTSecretLen {
		invalid = append(invalid, fmt.Sprintf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLen))
	}
	if c.Auth.TokenTTL <= 0 {
		invalid = append(invalid, "auth.token_ttl must be positive")
	}
	if c.AdminSecret == "" {
		missing = append(missing, "admin.secret")
	}

	switch c.Platform.Backend {
	case BackendAppwrite:
		for key, val := range map[string]string{
			"platform.endpoint":   c.Platform.Endpoint,
			"platform.project_id": c.Platform.ProjectID,
			"platform.api_key":    c.Platform.APIKey,
		} {
			if val == "" {
				missing = append(missing, key)
			}
		}
	case BackendPostgres:
		if c.DatabaseURL == "" {
			missing = append(missing, "database.url")
		}
	case BackendMemory:
	default:
		invalid = append(invalid, fmt.Sprintf("platform.backend %q is not one of appwrite, postgres, memory", c.Platform.Backend))
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			missing = append(missing, "redis.addr")
		}
	default:
		invalid = append(invalid, fmt.Sprintf("lock.backend %q is not one of memory, redis", c.Lock.Backend))
	}

	if c.Events.WebhookURL != "" && c.Events.WebhookSecret == "" {
		missing = append(missing, "events.webhook_secret")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	slices.Sort(missing)
	var errs []error
	if len(missing) > 0 {
		errs = append(errs, fmt.Errorf("missing required config: %s", strings.Join(missing, ", ")))
	}
	for _, msg := range invalid {
		errs = append(errs, errors.New(msg))
	}
	return errors.Join(errs...)
}
