package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/thirdweb-dev/engine-sub003/internal/application"
	"github.com/thirdweb-dev/engine-sub003/internal/config"
	"github.com/thirdweb-dev/engine-sub003/internal/domain"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/bundler"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/chains"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/kafka"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/logging"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/memstore"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/mysql"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/redisstore"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/signer"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/sqlite"
	"github.com/thirdweb-dev/engine-sub003/internal/infrastructure/telemetry"
	"github.com/thirdweb-dev/engine-sub003/internal/interfaces/httpapi"
)

var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

type stores struct {
	nonces       application.NonceStore
	attempts     application.AttemptLog
	guard        application.DeployGuard
	sendQueue    application.Queue
	confirmQueue application.Queue
	pinger       httpapi.Pinger
}

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	rotating, err := logging.Init(logging.Config{
		Level:      cfg.LogLevel,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})
	if err != nil {
		log.Fatalf("logging error: %v", err)
	}
	if rotating != nil {
		defer rotating.Close()
	}

	shutdownTracing, err := telemetry.InitTracer(context.Background(), "engine", cfg.OtelEndpoint)
	if err != nil {
		slog.Warn("tracing init failed", "err", err)
	} else {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdownTracing(ctx); err != nil {
				slog.Warn("tracing shutdown failed", "err", err)
			}
		}()
	}

	chainResolver, err := chains.NewResolver(cfg)
	if err != nil {
		log.Fatalf("chain config error: %v", err)
	}

	state, err := buildStores(cfg)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}

	directory, err := sqlite.NewAccountDirectory(cfg.AccountDBPath)
	if err != nil {
		log.Fatalf("account directory error: %v", err)
	}
	defer directory.Close()

	bundlerClient, err := bundler.NewClient(chainResolver)
	if err != nil {
		log.Fatalf("bundler client error: %v", err)
	}

	localSigner, err := signer.NewLocalSigner(cfg.SignerKeys, chainResolver)
	if err != nil {
		log.Fatalf("signer error: %v", err)
	}

	resolver := application.NewResolver(directory, chainResolver, application.ResolverConfig{
		DefaultFactory:    cfg.DefaultFactory,
		DefaultEntrypoint: cfg.DefaultEntrypoint,
	})
	builder, err := application.NewUserOpBuilder()
	if err != nil {
		log.Fatalf("userop builder error: %v", err)
	}

	bus := application.NewBus()
	metrics := httpapi.NewMetrics()
	bus.OnSubmitted(func(ctx context.Context, tx domain.SubmittedTransaction) {
		metrics.OnSubmitted()
	})
	bus.OnConfirmed(func(ctx context.Context, tx domain.ConfirmedTransaction) {
		metrics.OnConfirmed(tx.Status)
	})

	pingers := []httpapi.Pinger{directory}
	if state.pinger != nil {
		pingers = append(pingers, state.pinger)
	}

	var recordLedger httpapi.RecordLedger
	if cfg.RecordsDBDSN != "" {
		records, err := mysql.NewRecordStore(cfg.RecordsDBDSN)
		if err != nil {
			log.Fatalf("record store error: %v", err)
		}
		defer records.Close()
		recordLedger = records
		pingers = append(pingers, records)
		bus.OnSubmitted(func(ctx context.Context, tx domain.SubmittedTransaction) {
			if err := records.RecordSubmitted(ctx, tx); err != nil {
				slog.Error("record submitted transaction", "tx_id", tx.TransactionID, "err", err)
			}
		})
		bus.OnConfirmed(func(ctx context.Context, tx domain.ConfirmedTransaction) {
			if err := records.RecordConfirmed(ctx, tx); err != nil {
				slog.Error("record confirmed transaction", "tx_id", tx.TransactionID, "err", err)
			}
		})
	}

	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := kafka.NewPublisher(kafka.PublisherConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
		})
		if err != nil {
			log.Fatalf("kafka publisher error: %v", err)
		}
		defer publisher.Close()
		bus.OnSubmitted(func(ctx context.Context, tx domain.SubmittedTransaction) {
			if err := publisher.PublishSubmitted(ctx, tx); err != nil {
				slog.Error("publish submitted event", "tx_id", tx.TransactionID, "err", err)
			}
		})
		bus.OnConfirmed(func(ctx context.Context, tx domain.ConfirmedTransaction) {
			if err := publisher.PublishConfirmed(ctx, tx); err != nil {
				slog.Error("publish confirmed event", "tx_id", tx.TransactionID, "err", err)
			}
		})
	}

	executor, err := application.NewExecutor(resolver, chainResolver, state.sendQueue, state.nonces, state.attempts)
	if err != nil {
		log.Fatalf("executor error: %v", err)
	}

	sendWorker, err := application.NewSendWorker(
		state.nonces, state.attempts, state.guard, bundlerClient, localSigner, builder, state.confirmQueue, bus)
	if err != nil {
		log.Fatalf("send worker error: %v", err)
	}
	confirmWorker, err := application.NewConfirmWorker(
		state.nonces, state.guard, bundlerClient, nil, bus)
	if err != nil {
		log.Fatalf("confirm worker error: %v", err)
	}

	sendPool, err := application.NewPool(state.sendQueue, sendWorker.Handle, metrics, application.PoolConfig{
		Name:            "send",
		Workers:         cfg.SendWorkers,
		MaxAttempts:     application.MaxSendAttempts,
		PollInterval:    cfg.PollInterval,
		PromoteInterval: cfg.PromoteInterval,
	})
	if err != nil {
		log.Fatalf("send pool error: %v", err)
	}
	confirmPool, err := application.NewPool(state.confirmQueue, confirmWorker.Handle, metrics, application.PoolConfig{
		Name:            "confirm",
		Workers:         cfg.ConfirmWorkers,
		MaxAttempts:     application.MaxConfirmAttempts,
		PollInterval:    cfg.PollInterval,
		PromoteInterval: cfg.PromoteInterval,
	})
	if err != nil {
		log.Fatalf("confirm pool error: %v", err)
	}

	httpServer, err := httpapi.NewServer(executor, state.sendQueue, state.confirmQueue, directory, recordLedger, pingers, metrics, httpapi.BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	})
	if err != nil {
		log.Fatalf("http server error: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go func() {
		slog.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(ctx, cfg.HTTPAddr); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("http server stopped", "err", err)
			cancel()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sendPool.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		confirmPool.Run(ctx)
	}()

	slog.Info("engine started",
		"chains", len(cfg.ChainIDs),
		"store", cfg.StoreBackend,
		"send_workers", cfg.SendWorkers,
		"confirm_workers", cfg.ConfirmWorkers,
	)
	<-ctx.Done()
	wg.Wait()
	slog.Info("engine stopped")
}

func buildStores(cfg config.Config) (stores, error) {
	if cfg.StoreBackend == "memory" {
		return stores{
			nonces:       memstore.NewNonceStore(),
			attempts:     memstore.NewAttemptLog(),
			guard:        memstore.NewDeployGuard(),
			sendQueue:    memstore.NewQueue(),
			confirmQueue: memstore.NewQueue(),
		}, nil
	}
	client, err := redisstore.NewClient(redisstore.Config{Addr: cfg.RedisAddr})
	if err != nil {
		return stores{}, err
	}
	return stores{
		nonces:       redisstore.NewNonceStore(client),
		attempts:     redisstore.NewAttemptLog(client),
		guard:        redisstore.NewDeployGuard(client),
		sendQueue:    redisstore.NewQueue(client, "send"),
		confirmQueue: redisstore.NewQueue(client, "confirm"),
		pinger:       redisPinger{client: client},
	}, nil
}

type redisPinger struct {
	client *goredis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
