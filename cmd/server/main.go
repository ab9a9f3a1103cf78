/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reception ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (file + RECEPTION_* environment)
  2. Build the logger
  3. Open the ledger store (memory, sqlite or firebase)
  4. Build the service, token verifier and guest mailer
  5. Wire the offline journal, connectivity probe and replayer
  6. Configure HTTP router and start serving

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the probe/flush scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connections

EXAMPLES:
  # Local desk with SQLite and the offline journal
  ./server -config=./reception.yaml

  # Throwaway in-memory ledger
  RECEPTION_STORE_BACKEND=memory RECEPTION_AUTH_JWT_SECRET=dev ./server

SEE ALSO:
  - config/config.go: Configuration keys and defaults
  - api/server.go: Router configuration
  - offline/: Journal, replay and connectivity
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/reception-ledger/api"
	"github.com/warp/reception-ledger/auth"
	"github.com/warp/reception-ledger/config"
	"github.com/warp/reception-ledger/ledger"
	memstore "github.com/warp/reception-ledger/ledger/store"
	"github.com/warp/reception-ledger/logger"
	"github.com/warp/reception-ledger/notify"
	"github.com/warp/reception-ledger/offline"
	"github.com/warp/reception-ledger/reception"
	"github.com/warp/reception-ledger/store/rtdb"
	"github.com/warp/reception-ledger/store/sqlite"

	firebase "firebase.google.com/go/v4"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(cfg, log); err != nil {
		log.Fatal("Server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("ledger.timezone: %w", err)
	}

	// Store
	var (
		store  ledger.Store
		fbApp  *firebase.App
		closer func() error
	)
	switch cfg.Store.Backend {
	case "memory":
		store = memstore.NewMemory()
	case "sqlite":
		db, err := sqlite.New(cfg.Store.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open ledger database: %w", err)
		}
		store, closer = db, db.Close
	case "firebase":
		fbApp, err = rtdb.NewApp(ctx, rtdb.Config{
			ProjectID:       cfg.Store.Firebase.ProjectID,
			DatabaseURL:     cfg.Store.Firebase.DatabaseURL,
			CredentialsFile: cfg.Store.Firebase.CredentialsFile,
		})
		if err != nil {
			return err
		}
		if store, err = rtdb.New(ctx, fbApp); err != nil {
			return err
		}
	}
	if closer != nil {
		defer closer()
	}
	log.Info("Ledger store ready", zap.String("backend", cfg.Store.Backend))

	// Service
	opts := []reception.Option{
		reception.WithLogger(log.Named("reception")),
		reception.WithLocation(loc),
		reception.WithKeycardPrice(cfg.Ledger.KeycardUnitPrice),
	}
	if cfg.Mail.Enabled {
		templates := make(map[reception.ActivityCode]string, len(cfg.Mail.Templates))
		for code, id := range cfg.Mail.Templates {
			templates[reception.ActivityCode(code)] = id
		}
		opts = append(opts, reception.WithNotifier(notify.NewMailer(store, notify.Config{
			APIKey:    cfg.Mail.SendGridAPIKey,
			FromEmail: cfg.Mail.FromEmail,
			FromName:  cfg.Mail.FromName,
			Templates: templates,
		}, log.Named("mail"))))
	}
	svc := reception.NewService(store, opts...)

	// Auth
	var verifier auth.Verifier
	switch cfg.Auth.Mode {
	case "jwt":
		verifier = auth.NewJWT(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	case "firebase":
		// Validate guarantees the firebase backend, so fbApp is set.
		if verifier, err = auth.NewFirebase(ctx, fbApp); err != nil {
			return err
		}
	}

	// Offline
	var journal offline.Journal = offline.NewMemoryJournal()
	sw := offline.NewSwitch(true)
	if cfg.Offline.Enabled && cfg.Offline.JournalPath != "" {
		jdb, err := sqlite.New(cfg.Offline.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open offline journal: %w", err)
		}
		defer jdb.Close()
		journal = jdb
	}
	queue := offline.NewQueue(journal, svc, log.Named("queue"))
	router := offline.NewRouter(svc, queue, sw)
	replayer := offline.NewReplayer(journal, svc, sw, log.Named("replay"))

	var sched *offline.Scheduler
	if cfg.Offline.Enabled {
		probe := offline.NewProbe(store, sw, log.Named("probe"))
		if cfg.Offline.ProbeTimeout > 0 {
			probe.Timeout = cfg.Offline.ProbeTimeout
		}
		probe.Check(ctx)

		stopReconnect := replayer.FlushOnReconnect(ctx)
		defer stopReconnect()

		sched = offline.NewScheduler(probe, replayer, loc, log.Named("scheduler"))
		if err := sched.Register(cfg.Offline.ProbeSchedule, cfg.Offline.FlushSchedule); err != nil {
			return fmt.Errorf("offline schedules: %w", err)
		}
		sched.Start()
		log.Info("Offline sync started", zap.Int("jobs", sched.Entries()))
	}

	// HTTP
	handler := api.NewHandler(router, replayer, journal, sw, log.Named("api"))
	server := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(handler, api.RouterOptions{
			AllowedOrigins: cfg.Server.AllowedOrigins,
			Verifier:       verifier,
		}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Server starting", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down server...")
	if sched != nil {
		sched.Stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info("Server stopped")
	return nil
}
