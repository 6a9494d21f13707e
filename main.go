package main

import (
	"context"
	"encoding/json"
	"flag"
	stdlog "log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/prado2016/investra-ai-sub010/src/config"
	"github.com/prado2016/investra-ai-sub010/src/database"
	"github.com/prado2016/investra-ai-sub010/src/dedupe"
	"github.com/prado2016/investra-ai-sub010/src/handlers"
	"github.com/prado2016/investra-ai-sub010/src/ledger"
	"github.com/prado2016/investra-ai-sub010/src/logger"
	"github.com/prado2016/investra-ai-sub010/src/mailbox"
	"github.com/prado2016/investra-ai-sub010/src/parsers"
	"github.com/prado2016/investra-ai-sub010/src/portfolio"
	"github.com/prado2016/investra-ai-sub010/src/services"
	"github.com/prado2016/investra-ai-sub010/src/store"
	"github.com/prado2016/investra-ai-sub010/src/symbols"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	runOnce := flag.Bool("once", false, "run a single sync cycle and exit")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Investra email ingestion service starting...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	mailboxes, err := config.LoadMailboxes(config.Cfg.MailboxConfigPath)
	if err != nil {
		logger.L.Error("Failed to load mailbox configuration", "error", err)
		os.Exit(1)
	}
	logger.L.Info("Mailbox configuration loaded", "mailboxes", len(mailboxes))

	logger.L.Info("Initializing message store...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	messageStore := store.NewMessageStore(database.DB)

	ledgerClient := ledger.NewHTTPClient(config.Cfg.LedgerAPIURL, config.Cfg.LedgerAPIKey, config.Cfg.LedgerTimeout)

	var oracle symbols.Oracle
	if config.Cfg.AILookupEnabled {
		oracle, err = symbols.NewGeminiOracle(ctx, config.Cfg.GeminiAPIKey, config.Cfg.GeminiModel, config.Cfg.AILookupRatePerMinute)
		if err != nil {
			logger.L.Error("Failed to initialize symbol oracle", "error", err)
			os.Exit(1)
		}
		logger.L.Info("Symbol oracle initialized", "model", config.Cfg.GeminiModel)
	} else {
		logger.L.Info("AI symbol lookup disabled; direct resolution only")
	}

	logger.L.Info("Initializing services...")
	resolver := symbols.NewResolver(oracle, config.Cfg.AILookupTimeout)
	detector := dedupe.NewDetector(ledgerClient, config.Cfg.DuplicateWindow, config.Cfg.DuplicateTolerance)
	mapper := portfolio.NewMapper(ledgerClient, config.Cfg.AutoCreatePortfolios, config.Cfg.DefaultCurrency)
	writer := ledger.NewWriter(ledgerClient, config.Cfg.DefaultCurrency)
	notifier := services.NewNotifier()

	syncService := services.NewSyncService(
		mailboxes,
		mailbox.NewIMAPClient,
		parsers.GetParser,
		messageStore,
		resolver,
		detector,
		mapper,
		writer,
		ledgerClient,
		notifier,
		config.Cfg.MaxEmailsPerCycle,
		config.Cfg.MinAutoAcceptConfidence,
	)
	scheduler := services.NewScheduler(syncService, config.Cfg.SyncInterval, config.Cfg.StoreHistoryN)

	if *runOnce {
		summary, err := scheduler.RunOnce(ctx, "manual")
		if err != nil {
			logger.L.Error("Single-shot sync failed to start", "error", err)
			os.Exit(1)
		}
		if summary.HasErrors() {
			logger.L.Error("Single-shot sync finished with errors", "runID", summary.RunID, "errors", len(summary.Errors))
			os.Exit(1)
		}
		logger.L.Info("Single-shot sync finished cleanly", "runID", summary.RunID, "emails", summary.TotalEmailsSynced)
		return
	}

	if config.Cfg.SchedulerEnabled {
		scheduler.Start(ctx)
	} else {
		logger.L.Warn("Scheduler disabled by configuration; only manual runs will execute")
	}

	syncHandler := handlers.NewSyncHandler(scheduler)

	logger.L.Info("Configuring routes...")
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sync/status", syncHandler.HandleGetStatus)
	mux.HandleFunc("POST /api/sync/run", syncHandler.HandleRunSync)
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Investra email ingestion service is running"})
			return
		}
		http.NotFound(w, r)
	})

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      rateLimitMiddleware(mux),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // manual runs respond with the full summary
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		logger.L.Info("Shutdown signal received")
		if config.Cfg.SchedulerEnabled {
			scheduler.Stop()
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.L.Error("HTTP server shutdown failed", "error", err)
		}
	}()

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	}
	logger.L.Info("Server stopped gracefully.")
}
