package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robfig/cron/v3"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	appauth "github.com/arkadianet/davgate/internal/auth"
	"github.com/arkadianet/davgate/internal/calendar"
	"github.com/arkadianet/davgate/internal/config"
	"github.com/arkadianet/davgate/internal/contacts"
	"github.com/arkadianet/davgate/internal/dav"
	"github.com/arkadianet/davgate/internal/files"
	httpserver "github.com/arkadianet/davgate/internal/http"
	"github.com/arkadianet/davgate/internal/store"
)

func main() {
	log.Println("Starting DAVGate...")
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	services := httpserver.Services{}

	if cfg.DB.DSN != "" {
		pool, err := pgxpool.New(ctx, cfg.DB.DSN)
		if err != nil {
			log.Fatalf("failed to create db pool: %v", err)
		}
		defer pool.Close()

		if err := store.ApplyMigrations(ctx, pool); err != nil {
			log.Fatalf("failed to apply migrations: %v", err)
		}
		services.Audit = store.New(pool)
	} else {
		log.Println("no db.dsn configured, audit log disabled")
	}

	authService, err := appauth.NewService(ctx, cfg.Agent.TokenHash, cfg.Agent.OIDCIssuer, cfg.Agent.OIDCClientID)
	if err != nil {
		log.Fatalf("failed to initialize auth service: %v", err)
	}
	services.Auth = authService

	var tokenSource oauth2.TokenSource
	if cfg.UpstreamOAuth.TokenURL != "" {
		cc := clientcredentials.Config{
			TokenURL:     cfg.UpstreamOAuth.TokenURL,
			ClientID:     cfg.UpstreamOAuth.ClientID,
			ClientSecret: cfg.UpstreamOAuth.ClientSecret,
			Scopes:       cfg.UpstreamOAuth.Scopes,
		}
		tokenSource = cc.TokenSource(ctx)
	}

	newClient := func(name string, up config.Upstream) *dav.Client {
		client, err := dav.NewClient(up.URL, dav.Options{
			Username:    up.Username,
			Password:    up.Password,
			TokenSource: tokenSource,
		})
		if err != nil {
			log.Fatalf("failed to configure %s upstream: %v", name, err)
		}
		return client
	}

	if cfg.Files.URL != "" {
		services.Files = files.NewService(newClient("files", cfg.Files))
	}
	if cfg.Calendar.URL != "" {
		services.Calendar = calendar.NewService(newClient("calendar", cfg.Calendar))
	}
	if cfg.Contacts.URL != "" {
		services.Contacts = contacts.NewService(newClient("contacts", cfg.Contacts))
	}

	if services.Audit != nil && cfg.Audit.RetentionDays > 0 {
		scheduler := cron.New()
		audit := services.Audit
		retention := time.Duration(cfg.Audit.RetentionDays) * 24 * time.Hour
		_, err := scheduler.AddFunc(cfg.Audit.PruneSchedule, func() {
			pruneCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()
			n, err := audit.PruneBefore(pruneCtx, time.Now().Add(-retention))
			if err != nil {
				log.Printf("[ERROR] audit prune failed: %v", err)
				return
			}
			log.Printf("audit prune removed %d entries", n)
		})
		if err != nil {
			log.Fatalf("invalid audit prune schedule %q: %v", cfg.Audit.PruneSchedule, err)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	r := httpserver.NewRouter(cfg, services)

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}
}
