// Standalone worker process: claims and executes jobs from the central
// queue without serving HTTP. Run exactly one instance per queue name —
// the claim protocol does not coordinate across processes, so a second
// instance on the same queue duplicates work.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ocx/crm-automation/internal/automation"
	"github.com/ocx/crm-automation/internal/callback"
	"github.com/ocx/crm-automation/internal/central"
	"github.com/ocx/crm-automation/internal/config"
	"github.com/ocx/crm-automation/internal/cryptoutil"
	"github.com/ocx/crm-automation/internal/events"
	"github.com/ocx/crm-automation/internal/providers"
	"github.com/ocx/crm-automation/internal/queue"
	"github.com/ocx/crm-automation/internal/tenant"
	"github.com/ocx/crm-automation/internal/worker"
)

func main() {
	_ = godotenv.Load()

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

	sender := callback.NewSender(store, cfg.Callback)
	defer sender.Shutdown()

	providerSet := automation.Providers{
		Calendar: providers.NewGoogleCalendarProvider(&central.SecretsCalendarSource{Store: store, Cipher: cipher}),
	}
	if base := os.Getenv("MESSAGING_GATEWAY_URL"); base != "" {
		providerSet.WhatsApp = providers.NewHTTPMessagingProvider(base)
	}
	if base := os.Getenv("EMAIL_GATEWAY_URL"); base != "" {
		providerSet.Email = providers.NewHTTPEmailProvider(base)
	}

	bus := events.NewBus()
	engine := automation.New(queueStore, sender, providerSet, bus)
	dispatcher := &automation.Dispatcher{
		Engine:   engine,
		Registry: registry,
		Central:  store,
		Cipher:   cipher,
	}

	w := worker.New("automation", queueStore, dispatcher.Dispatch, cfg.Worker, bus)
	ctx, cancel := context.WithCancel(context.Background())
	go w.Run(ctx)
	slog.Info("worker running", "queue", w.QueueName, "concurrency", cfg.Worker.Concurrency)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	slog.Info("shutting down, draining in-flight jobs")
	cancel()
	w.Stop()
	slog.Info("shutdown complete")
}
