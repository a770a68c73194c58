// Command worker runs the broker consumers without the HTTP surface, for
// deployments that scale event processing separately from token issuance.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clerk-token-service/internal/apikey"
	"clerk-token-service/internal/config"
	"clerk-token-service/internal/queue"
	sessionservice "clerk-token-service/internal/session/service"
	"clerk-token-service/internal/store"
	"clerk-token-service/internal/telemetry"
	"clerk-token-service/internal/telemetry/otel"
	"clerk-token-service/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(cfg.RedisURL)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer st.Close()
	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	if err := st.Ping(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("ping store: %v", err)
	}
	pingCancel()

	providers, err := otel.NewProviders(ctx, cfg.OTLPEndpoint, "clerk-token-worker")
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	metrics, err := telemetry.NewMetrics(providers.MeterProvider)
	if err != nil {
		log.Fatalf("init metrics: %v", err)
	}
	audit := producer.NewAuditProducer(cfg.AuditKafkaBrokersList(), cfg.AuditKafkaTopic)
	defer audit.Close()

	sessions := sessionservice.NewProcessor(st, metrics, audit)
	mappings := apikey.NewProcessor(st, metrics)

	broker, err := queue.Dial(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("dial broker: %v", err)
	}
	defer broker.Close()

	go func() {
		if err := broker.Run(ctx, queue.Consumer{
			Queue:   cfg.SessionEventsQueue,
			Handler: sessions.HandleMessage,
		}); err != nil {
			log.Printf("session events consumer stopped: %v", err)
			cancel()
		}
	}()
	go func() {
		if err := broker.Run(ctx, queue.Consumer{
			Queue:   cfg.APIKeyMappingsQueue,
			Handler: mappings.HandleMessage,
		}); err != nil {
			log.Printf("api key mappings consumer stopped: %v", err)
			cancel()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		log.Printf("received %s, shutting down", s)
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
}
