// Command gateway serves the pbsnet HTTP API in front of the configured
// platform backend.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/pbsnet/gateway/internal/config"
	"github.com/pbsnet/gateway/internal/email"
	"github.com/pbsnet/gateway/internal/events"
	"github.com/pbsnet/gateway/internal/handler"
	"github.com/pbsnet/gateway/internal/health"
	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/keylock"
	"github.com/pbsnet/gateway/internal/logging"
	"github.com/pbsnet/gateway/internal/media"
	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/platform/appwrite"
	"github.com/pbsnet/gateway/internal/platform/memory"
	"github.com/pbsnet/gateway/internal/platform/postgres"
	"github.com/pbsnet/gateway/internal/profile"
	"github.com/pbsnet/gateway/internal/sysdata"
	"github.com/pbsnet/gateway/internal/users"
)

func main() {
	configFile := flag.String("config", "", "path to gateway.yaml (default: search configs/ and .)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg, logger); err != nil {
		logger.Error("gateway exited with error", zap.Error(err))
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Email Sender ──────────────────────────────────────────────────────────
	var mailer email.Sender
	if cfg.Email.SMTPHost != "" {
		mailer = email.NewSMTPSender(
			cfg.Email.SMTPHost,
			cfg.Email.SMTPPort,
			cfg.Email.SMTPUsername,
			cfg.Email.SMTPPassword,
			cfg.Email.FromAddress,
		)
		logger.Info("SMTP email sender configured", zap.String("host", cfg.Email.SMTPHost))
	} else {
		mailer = email.NewNoopSender(logger)
		logger.Info("email sender: noop (set email.smtp_host to enable SMTP)")
	}

	// ── Platform backend ──────────────────────────────────────────────────────
	backend, err := openBackend(ctx, cfg, mailer, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	checker := health.New(health.Config{
		CheckInterval: cfg.Health.CheckInterval,
		ProbeTimeout:  cfg.Health.ProbeTimeout,
		FailThreshold: cfg.Health.FailThreshold,
	}, logger)
	checker.SetMetricsRecord(handler.RecordDependency)
	if backend.Ping != nil {
		checker.Add("backend", backend.Ping)
	}

	// ── Locks ─────────────────────────────────────────────────────────────────
	var locks keylock.Locker
	switch cfg.Lock.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		locks = keylock.NewRedis(rdb, "pbsnet:lock:", cfg.Lock.TTL, logger)
		checker.Add("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
		logger.Info("locks: redis", zap.String("addr", cfg.Redis.Addr))
	default:
		locks = keylock.NewMemory()
		logger.Info("locks: in-process (single replica only)")
	}

	// ── Events ────────────────────────────────────────────────────────────────
	var sinks events.Multi
	if cfg.Events.NATSURL != "" {
		n, closeNATS, err := events.Connect(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer closeNATS()
		sinks = append(sinks, n)
		checker.Add("nats", n.Ping)
		logger.Info("events: nats", zap.String("url", cfg.Events.NATSURL))
	}
	if cfg.Events.WebhookURL != "" {
		sinks = append(sinks, events.NewWebhook(cfg.Events.WebhookURL, cfg.Events.WebhookSecret, logger))
		logger.Info("events: webhook", zap.String("url", cfg.Events.WebhookURL))
	}
	var pub events.Publisher = events.Noop{}
	if len(sinks) > 0 {
		pub = sinks
	}

	// ── Wire up layers ────────────────────────────────────────────────────────
	tokens := identity.NewTokenService([]byte(cfg.Auth.JWTSecret), cfg.Auth.TokenTTL)
	profiles := profile.NewStore(backend.Documents, cfg.Platform.ProfileCollection, locks, pub, cfg.Auth.APIKeyPrefix, logger)
	sys := sysdata.NewStore(backend.Documents, cfg.Platform.SystemCollection, locks, pub, logger)
	pics := media.NewService(backend.Storage, profiles, media.Config{
		Bucket:    cfg.Platform.BucketID,
		PublicURL: cfg.Platform.PublicURL,
		ProjectID: cfg.Platform.ProjectID,
	}, pub, logger)
	userSvc := users.NewService(backend.Directory, profiles, tokens, pub, cfg.FrontendURL, logger)

	router, err := newRouter(cfg, services{
		users:       userSvc,
		profiles:    profiles,
		sysdata:     sys,
		media:       pics,
		tokens:      tokens,
		health:      checker,
		serveFiles:  backend.ServesFiles,
		adminSecret: cfg.AdminSecret,
	}, logger)
	if err != nil {
		return err
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go checker.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway HTTP listening",
			zap.Int("port", cfg.Server.Port),
			zap.String("backend", cfg.Platform.Backend),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ──────────────────────────────────────────────────────
	select {
	case err := <-errCh:
		return fmt.Errorf("http listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down gateway...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}

	logger.Info("gateway stopped")
	return nil
}

// openBackend connects the configured platform backend.
func openBackend(ctx context.Context, cfg *config.Config, mailer email.Sender, logger *zap.Logger) (*platform.Backend, error) {
	switch cfg.Platform.Backend {
	case config.BackendPostgres:
		db, err := postgres.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		opts := []postgres.Option{postgres.WithMailer(mailer)}
		if cfg.Google.ClientID != "" {
			opts = append(opts, postgres.WithOAuthProvider("google", &oauth2.Config{
				ClientID:     cfg.Google.ClientID,
				ClientSecret: cfg.Google.ClientSecret,
				RedirectURL:  cfg.Google.RedirectURL,
				Scopes:       []string{"openid", "email", "profile"},
				Endpoint:     google.Endpoint,
			}))
		} else {
			logger.Info("google login disabled (set oauth.google.client_id to enable)")
		}
		logger.Info("platform: postgres")
		return postgres.New(db, logger, opts...).Platform(), nil

	case config.BackendMemory:
		logger.Warn("platform: in-memory backend, all data is lost on exit")
		mem := memory.New()
		mem.SetUnique(cfg.Platform.ProfileCollection, "username")
		return mem.Platform(), nil

	default:
		logger.Info("platform: appwrite",
			zap.String("endpoint", cfg.Platform.Endpoint),
			zap.String("project_id", cfg.Platform.ProjectID),
		)
		return appwrite.New(appwrite.Config{
			Endpoint:   cfg.Platform.Endpoint,
			ProjectID:  cfg.Platform.ProjectID,
			APIKey:     cfg.Platform.APIKey,
			DatabaseID: cfg.Platform.DatabaseID,
		}).Platform(), nil
	}
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
