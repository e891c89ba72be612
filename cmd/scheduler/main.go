package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	calendar "google.golang.org/api/calendar/v3"

	"github.com/example/contract-scheduler/internal/application"
	"github.com/example/contract-scheduler/internal/availability"
	calendargoogle "github.com/example/contract-scheduler/internal/calendar/google"
	"github.com/example/contract-scheduler/internal/config"
	"github.com/example/contract-scheduler/internal/credential"
	httptransport "github.com/example/contract-scheduler/internal/http"
	"github.com/example/contract-scheduler/internal/notification"
	"github.com/example/contract-scheduler/internal/persistence/sqlite"
	"github.com/example/contract-scheduler/internal/syncworker"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	storage, err := sqlite.Open(cfg.SQLiteDSN)
	if err != nil {
		logger.Error("failed to open storage", "error", err)
		os.Exit(1)
	}
	defer func() {
		if cerr := storage.Close(); cerr != nil {
			logger.Error("failed to close storage", "error", cerr)
		}
	}()

	if err := storage.Migrate(context.Background()); err != nil {
		logger.Error("failed to apply migrations", "error", err)
		os.Exit(1)
	}

	oauthCfg, err := loadOAuthConfig(cfg)
	if err != nil {
		logger.Error("failed to load Google OAuth configuration", "error", err)
		os.Exit(1)
	}

	idGenerator := uuid.NewString
	now := time.Now

	gcal := calendargoogle.NewClient()

	// The primary calendar id of a Google account is the account email, so it
	// doubles as the provider account lookup after a code exchange.
	credentialStore := credential.NewStoreWithLogger(storage, oauthCfg, gcal.PrimaryCalendarID, idGenerator, now, logger)
	resolver := availability.NewResolver(credentialStore, gcal, storage, logger)

	syncQueue := syncworker.NewQueue(storage, idGenerator, now)
	notifyQueue := notification.NewQueue(storage, idGenerator, now)

	meetingService := application.NewMeetingService(
		storage,
		allActiveContracts{},
		resolver,
		syncQueue,
		notifyQueue,
		idGenerator,
		now,
		logger,
	)

	workerCfg := syncworker.DefaultConfig
	workerCfg.MaxAttempts = cfg.SyncMaxAttempts
	worker := syncworker.NewWorker(storage, storage, credentialStore, gcal, notifyQueue, workerCfg, idGenerator, now, logger)

	reconciler := syncworker.NewReconciler(storage, credentialStore, gcal, now, logger)

	mailer, err := notification.NewSMTPMailer(notification.SMTPConfig{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
	})
	if err != nil {
		logger.Error("failed to configure SMTP mailer", "error", err)
		os.Exit(1)
	}

	dispatcherCfg := notification.DefaultConfig
	dispatcherCfg.MaxAttempts = cfg.NotifyMaxAttempts
	dispatcher := notification.NewDispatcher(storage, mailer, dispatcherCfg, now, logger)

	go worker.Run(ctx, cfg.SyncInterval)
	go reconciler.Run(ctx, cfg.ReconcileInterval)
	go dispatcher.Run(ctx, cfg.SyncInterval)

	meetingHandler := httptransport.NewMeetingHandler(meetingService, storage, worker, logger)
	availabilityHandler := httptransport.NewAvailabilityHandler(resolver, logger)
	oauthHandler := httptransport.NewOAuthHandler(credentialStore, idGenerator, now, logger)
	webhookHandler := httptransport.NewWebhookHandler(cfg.WebhookToken, reconciler, logger)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Meetings:     meetingHandler,
		Availability: availabilityHandler,
		OAuth:        oauthHandler,
		Webhooks:     webhookHandler,
		Middleware:   []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("scheduler API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func loadOAuthConfig(cfg config.Config) (*oauth2.Config, error) {
	data, err := os.ReadFile(cfg.GoogleCredentials)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", cfg.GoogleCredentials, err)
	}
	oauthCfg, err := google.ConfigFromJSON(data, calendar.CalendarScope)
	if err != nil {
		return nil, fmt.Errorf("parsing OAuth client JSON: %w", err)
	}
	oauthCfg.RedirectURL = cfg.OAuthRedirectURL
	return oauthCfg, nil
}

// allActiveContracts is the default contract directory: the contract
// subsystem lives outside this service, and deployments without one accept
// any non-empty contract id.
type allActiveContracts struct{}

func (allActiveContracts) ContractActive(_ context.Context, contractID string) (bool, error) {
	return strings.TrimSpace(contractID) != "", nil
}
