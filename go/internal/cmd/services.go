package main

import (
	"context"
	"fmt"
	"time"

	"github.com/mcdev12/marketlab/go/clients/advisor_client"
	"github.com/mcdev12/marketlab/go/internal/dbconfig"
	"github.com/mcdev12/marketlab/go/internal/experiment/gateway"
	"github.com/mcdev12/marketlab/go/internal/experiment/orchestrator"
	"github.com/mcdev12/marketlab/go/internal/experiment/outbox"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway  *gateway.Service
	Registry *orchestrator.Registry
	Worker   *outbox.Worker
	Health   *outbox.HealthChecker

	closers []func()
}

// Close releases storage and broker connections in reverse order.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// setupServices wires storage → outbox → registry → gateway. The registry
// lives until ctx is cancelled.
func setupServices(ctx context.Context, config *Config) (*Services, error) {
	services := &Services{}

	store, archive, wake, err := setupStorage(ctx, config, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	publisher, err := setupPublisher(ctx, services)
	if err != nil {
		services.Close()
		return nil, err
	}

	sink := outbox.NewApp(store, archive, nil, getEnv("SERVICE_NAME", "marketlab"))
	services.Worker = outbox.NewWorker(store, publisher, config.outboxConfig(), wake)
	services.Health = outbox.NewHealthChecker(services.Worker, store, publisher, 2*time.Minute)

	gwConfig := gateway.DefaultConfig()
	gwConfig.Defaults = config.applyDefaults
	services.Gateway = gateway.NewService(gwConfig)

	services.Registry = orchestrator.NewRegistry(ctx, services.Gateway.Emitter(), sink, setupAdvisor(config), config.orchestratorOptions())
	services.Gateway.Bind(services.Registry)
	return services, nil
}

type outboxStore interface {
	outbox.OutboxRepository
	outbox.Store
}

// setupStorage selects Postgres or the in-memory store from STORAGE.
func setupStorage(ctx context.Context, config *Config, services *Services) (outboxStore, outbox.Archive, <-chan struct{}, error) {
	switch mode := getEnv("STORAGE", "postgres"); mode {
	case "memory":
		log.Warn().Msg("using in-memory storage; records are lost on restart")
		store := outbox.NewMemoryStore()
		return store, store, store.Notifications(), nil

	case "postgres":
		dbCfg := dbconfig.NewConfigFromEnv()
		database, err := setupDatabase(ctx, dbCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		services.closers = append(services.closers, func() { _ = database.Close() })

		repo := outbox.NewRepository(database, config.notifyChannel())
		if err := repo.Migrate(ctx); err != nil {
			return nil, nil, nil, err
		}

		pool, err := setupPool(ctx, dbCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		services.closers = append(services.closers, pool.Close)

		listener, err := outbox.NewListener(dbCfg.DSN(), config.notifyChannel())
		if err != nil {
			// Polling alone still relays everything.
			log.Warn().Err(err).Msg("outbox listener unavailable, relying on polling")
			return repo, outbox.NewArchiveReader(pool), nil, nil
		}
		services.closers = append(services.closers, func() { _ = listener.Close() })
		return repo, outbox.NewArchiveReader(pool), listener.Wake(), nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown STORAGE %q (want postgres or memory)", mode)
	}
}

// setupPublisher uses JetStream when NATS_URL is set and the log otherwise.
func setupPublisher(ctx context.Context, services *Services) (outbox.Publisher, error) {
	url := getEnv("NATS_URL", "")
	if url == "" {
		log.Warn().Msg("NATS_URL not set, outbox events are only logged")
		return outbox.LogPublisher{}, nil
	}

	jsCfg := outbox.DefaultJetStreamConfig()
	jsCfg.URL = url
	jsCfg.StreamName = getEnv("NATS_STREAM", jsCfg.StreamName)
	publisher, err := outbox.NewJetStreamPublisher(ctx, jsCfg)
	if err != nil {
		return nil, fmt.Errorf("create JetStream publisher: %w", err)
	}
	services.closers = append(services.closers, func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("close publisher")
		}
	})
	return publisher, nil
}

// setupAdvisor returns nil when no advisor is configured; stand-ins then
// always decide randomly.
func setupAdvisor(config *Config) orchestrator.Advisor {
	url := getEnv("ADVISOR_URL", config.Advisor.URL)
	if url == "" {
		return nil
	}
	timeout := time.Duration(config.Advisor.TimeoutMS) * time.Millisecond
	log.Info().Str("url", url).Msg("stand-in advisor enabled")
	return advisor_client.NewAdvisorClient(url, getEnv("ADVISOR_API_KEY", ""), timeout)
}
