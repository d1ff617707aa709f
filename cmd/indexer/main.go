package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/corpusd/internal/auth"
	"github.com/efebarandurmaz/corpusd/internal/config"
	"github.com/efebarandurmaz/corpusd/internal/document"
	"github.com/efebarandurmaz/corpusd/internal/llm/openai"
	"github.com/efebarandurmaz/corpusd/internal/observability"
	"github.com/efebarandurmaz/corpusd/internal/queue"
	"github.com/efebarandurmaz/corpusd/internal/server"
	"github.com/efebarandurmaz/corpusd/internal/vector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "indexer",
		Short: "Document indexing worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "configs/corpusd.yaml", "Config file path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	ctx := context.Background()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := config.NewLogger(cfg.Log)
	slog.SetDefault(log)

	tp, err := observability.InitTracing(ctx, &observability.TracingConfig{
		ServiceName:    "indexer",
		ServiceVersion: "0.1.0",
		Environment:    cfg.Trace.Environment,
		OTLPEndpoint:   cfg.Trace.OTLPEndpoint,
		SampleRate:     cfg.Trace.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	broker := auth.NewBroker(auth.NewRedisKV(rdb), log)

	embedder := openai.New(cfg.Embedding.APIKey, "", cfg.Embedding.Model, cfg.Embedding.BaseURL)
	store, err := vector.NewQdrant(ctx, vector.QdrantConfig{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		Collection: cfg.Vector.Collection,
		Dimensions: cfg.Vector.Dimensions,
	}, embedder)
	if err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	if err := store.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}

	manager := document.NewManager(store, document.Splitter{
		Size:    cfg.Documents.ChunkSize,
		Overlap: cfg.Documents.ChunkOverlap,
	}, log)

	consumer := queue.NewConsumer(
		queue.NewRedisDequeuer(rdb, cfg.Queue.IndexQueue, cfg.Queue.DeindexQueue),
		manager,
		queue.NewStatusReporter(cfg.Server.StatusBaseURL),
		queue.NewReloadTrigger(broker, cfg.Server.RagServiceURL, cfg.Auth.ReloadTTL),
		queue.ConsumerConfig{
			IndexQueue:   cfg.Queue.IndexQueue,
			DeindexQueue: cfg.Queue.DeindexQueue,
			DocumentsDir: cfg.Documents.Dir,
			Backoff:      cfg.Queue.Backoff,
		},
		log,
	)

	consumerCtx, cancelConsumer := context.WithCancel(ctx)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		consumer.Run(consumerCtx)
	}()

	srv := server.New(cfg.Server.Addr, server.NewIndexerRouter(), log)

	shutdown := server.NewShutdownHandler(0, log)
	shutdown.RegisterHook("http-server", 10, srv.Shutdown)
	shutdown.RegisterHook("consumer", 20, func(ctx context.Context) error {
		cancelConsumer()
		select {
		case <-consumerDone:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("consumer did not stop within grace period")
		}
	})
	shutdown.RegisterHook("tracing", 80, tp.Shutdown)
	shutdown.RegisterHook("vector-store", 85, func(ctx context.Context) error {
		return store.Close()
	})
	shutdown.RegisterHook("redis", 90, func(ctx context.Context) error {
		return rdb.Close()
	})
	shutdown.Start()

	go func() {
		if err := srv.ListenAndServe(); err != nil {
			log.Error("http server failed", "error", err)
			shutdown.Shutdown()
		}
	}()

	shutdown.Wait()
	return nil
}
