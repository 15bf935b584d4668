// Command commune runs the community chat API server.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"

	"github.com/commune-chat/commune/pkg/api"
	"github.com/commune-chat/commune/pkg/auth"
	"github.com/commune-chat/commune/pkg/communities"
	"github.com/commune-chat/commune/pkg/config"
	"github.com/commune-chat/commune/pkg/mail"
	"github.com/commune-chat/commune/pkg/observability"
	"github.com/commune-chat/commune/pkg/realtime"
	"github.com/commune-chat/commune/pkg/tokens"
	"github.com/commune-chat/commune/pkg/users"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.ParseLogLevel(cfg.LogLevel), os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	db, err := sql.Open("postgres", cfg.Store.PostgresURL)
	if err != nil {
		return fmt.Errorf("failed to open postgres: %w", err)
	}
	defer db.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping postgres: %w", err)
	}
	logger.Info("connected to postgres")

	store, err := tokens.NewRedisStore(cfg.Store.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}
	store.WithMetrics(metrics)
	defer store.Close()
	logger.Info("connected to redis")

	var mailer mail.Mailer
	if cfg.Mail.SMTPAddr != "" {
		mailer = mail.NewSMTPMailer(cfg.Mail.SMTPAddr)
	} else {
		logger.Warn("no SMTP address configured, mail goes to the log")
		mailer = mail.NewLogMailer(logger)
	}

	userRepo := users.NewPostgresRepository(db)
	communitySvc := communities.NewService(db)
	sessions := tokens.NewSessionStore(store, cfg.Auth.SessionTTL)
	secret := []byte(cfg.Auth.ResetKeySecret)

	authSvc := auth.NewService(auth.Config{
		Users:           userRepo,
		Sessions:        sessions,
		Confirms:        tokens.NewConfirmationStore(store, cfg.Auth.ConfirmTTL),
		Resets:          tokens.NewResetStore(store, secret, cfg.Auth.ResetTTL, cfg.Auth.ResetMaxAttempts),
		Resend:          tokens.NewAttemptLimiter(store, tokens.ResendAttemptsNamespace, cfg.Auth.ResetTTL, cfg.Auth.ResetMaxAttempts),
		Hasher:          auth.NewPasswordHasher(),
		Mailer:          mailer,
		ResendKeySecret: secret,
		BaseURL:         cfg.Mail.BaseURL,
		MailFrom:        cfg.Mail.From,
		Logger:          logger,
		Metrics:         metrics,
	})

	server := api.NewServer(api.Config{
		Auth:              authSvc,
		Communities:       communitySvc,
		Users:             userRepo,
		Sessions:          sessions,
		Publisher:         realtime.NewRedisPublisher(store.Client()),
		Store:             store,
		LoginRateLimit:    cfg.Auth.LoginRateLimit,
		LoginRateWindow:   cfg.Auth.LoginRateWindow,
		SessionCookieName: cfg.Auth.SessionCookieName,
		SessionTTL:        cfg.Auth.SessionTTL,
		SecureCookies:     true,
		Logger:            logger,
		Metrics:           metrics,
	})

	// Expired invitations are filtered at read time; the sweep keeps the
	// table from growing without bound.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		removed, err := communitySvc.CleanupExpiredInvitations(ctx)
		if err != nil {
			logger.WithError(err).Error("invitation sweep failed")
			return
		}
		if removed > 0 {
			logger.WithField("removed", removed).Info("swept expired invitations")
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule invitation sweep: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	httpServer := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", httpServer.Addr).Info("server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
