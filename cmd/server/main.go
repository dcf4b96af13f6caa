package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ocx/crm-automation/internal/api"
	"github.com/ocx/crm-automation/internal/automation"
	"github.com/ocx/crm-automation/internal/callback"
	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
	"github.com/ocx/crm-automation/internal/cryptoutil"
	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/infra"
	"github.com/ocx/crm-automation/internal/middleware"
	"github.com/ocx/crm-automation/internal/providers"
	"github.com/ocx/crm-automation/internal/queue"
	"github.com/ocx/crm-automation/internal/tenant"
	"github.com/ocx/crm-automation/internal/webhooks"
	"github.com/ocx/crm-automation/internal/worker"
)

func main() {
	_ = godotenv.Load()

	// Load configuration (YAML + env overrides + defaults)
	cfg := config.Get()

	cipher, err := cryptoutil.New(cfg.Crypto.Secret, cfg.Server.Env == "production")
	if err != nil {
		log.Fatalf("Failed to initialize cipher: %v", err)
	}

	store, err := central.NewStore(cfg.Central.SupabaseURL, cfg.Central.SupabaseServiceKey)
	if err != nil {
		log.Fatalf("Failed to initialize central store: %v", err)
	}

	registry := tenant.NewRegistry(store, cipher, cfg.TenantConn)
	defer registry.Close()

	queueStore, err := queue.NewStore(cfg.Central.JobsDSN, cfg.Queue)
	if err != nil {
		log.Fatalf("Failed to open jobs store: %v", err)
	}
	defer queueStore.Close()

	// =========================================================================
	// Redis — shared rate-limit counters (graceful fallback to in-memory)
	// =========================================================================
	var limiter middleware.Limiter
	if cfg.Redis.Enabled {
		adapter, err := infra.NewGoRedisAdapter(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			slog.Warn("Redis connection failed, falling back to in-memory rate limiter", "addr", cfg.Redis.Addr, "error", err)
		} else {
			defer adapter.Close()
			limiter = middleware.NewRedisRateLimiter(adapter, middleware.RateLimitConfig{
				MaxCallsPerMinute: cfg.RateLimit.RequestsPerMinute,
				BurstSize:         cfg.RateLimit.BurstSize,
			})
			slog.Info("Redis-backed rate limiter wired")
		}
	}

	// =========================================================================
	// Event bus + standing webhooks
	// =========================================================================
	var bus events.Emitter
	var localBus *events.Bus
	if cfg.PubSub.Enabled {
		psBus, err := events.NewPubSubBus(cfg.PubSub.ProjectID, cfg.PubSub.TopicID)
		if err != nil {
			slog.Warn("Pub/Sub bus unavailable, using in-memory bus", "error", err)
			localBus = events.NewBus()
			bus = localBus
		} else {
			defer psBus.Close()
			localBus = psBus.Bus
			bus = psBus
		}
	} else {
		localBus = events.NewBus()
		bus = localBus
	}

	hooks := webhooks.NewRegistry()
	var hookEmitter webhooks.Emitter
	if cfg.CloudTasks.Enabled {
		cd, err := webhooks.NewCloudDispatcher(hooks, cfg.CloudTasks.ProjectID, cfg.CloudTasks.LocationID, cfg.CloudTasks.QueueID, 2)
		if err != nil {
			slog.Warn("Cloud Tasks dispatcher unavailable, using in-memory dispatcher", "error", err)
			hookEmitter = webhooks.NewDispatcher(hooks, 4)
		} else {
			hookEmitter = cd
		}
	} else {
		hookEmitter = webhooks.NewDispatcher(hooks, 4)
	}
	defer hookEmitter.Shutdown()

	// Forward every bus event to matching standing webhooks
	hookCh := localBus.Subscribe()
	go func() {
		for evt := range hookCh {
			hookEmitter.Emit(evt.Type, evt.TenantCode, evt.Data)
		}
	}()
	defer localBus.Unsubscribe(hookCh)

	// =========================================================================
	// Callback sender + providers + automation engine
	// =========================================================================
	sender := callback.NewSender(store, cfg.Callback)
	var cbSender automation.CallbackSender = sender
	if cfg.CloudTasks.Enabled {
		if cloud, err := callback.NewCloudSender(cfg.CloudTasks.ProjectID, cfg.CloudTasks.LocationID, cfg.CloudTasks.QueueID, sender); err != nil {
			slog.Warn("Cloud Tasks callback sender unavailable, using in-process sender", "error", err)
			defer sender.Shutdown()
		} else {
			cbSender = cloud
			defer cloud.Shutdown()
		}
	} else {
		defer sender.Shutdown()
	}

	providerSet := automation.Providers{
		Calendar: providers.NewGoogleCalendarProvider(&central.SecretsCalendarSource{Store: store, Cipher: cipher}),
	}
	if base := os.Getenv("MESSAGING_GATEWAY_URL"); base != "" {
		providerSet.WhatsApp = providers.NewHTTPMessagingProvider(base)
	}
	if base := os.Getenv("EMAIL_GATEWAY_URL"); base != "" {
		providerSet.Email = providers.NewHTTPEmailProvider(base)
	}

	engine := automation.New(queueStore, cbSender, providerSet, bus)

	dispatcher := &automation.Dispatcher{
		Engine:   engine,
		Registry: registry,
		Central:  store,
		Cipher:   cipher,
	}

	// =========================================================================
	// Worker — claims and executes queued jobs in-process
	// =========================================================================
	w := worker.New("automation", queueStore, dispatcher.Dispatch, cfg.Worker, bus)
	workerCtx, stopWorker := context.WithCancel(context.Background())
	go w.Run(workerCtx)

	// =========================================================================
	// HTTP surface
	// =========================================================================
	server := api.New(api.Deps{
		Central:    store,
		Registry:   registry,
		QueueStore: queueStore,
		Engine:     engine,
		Callback:   cbSender,
		Calendar:   providerSet.Calendar,
		Cipher:     cipher,
		Config:     cfg,
		Limiter:    limiter,
		Hooks:      hooks,
		Bus:        bus,
		AdminToken: os.Getenv("ADMIN_TOKEN"),
	})

	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      server.Router(),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeoutSec) * time.Second,
		IdleTimeout:  time.Duration(cfg.Server.IdleTimeoutSec) * time.Second,
	}

	go func() {
		slog.Info("api server listening", "port", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// Graceful shutdown: stop accepting requests, stop polling, drain
	// in-flight jobs, then close connections.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down")

	shutdownTimeout := time.Duration(cfg.Server.ShutdownTimeout) * time.Second
	if shutdownTimeout == 0 {
		shutdownTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	stopWorker()
	w.Stop()
	slog.Info("shutdown complete")
}
