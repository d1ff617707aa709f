package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/corpusd/internal/auth"
	"github.com/efebarandurmaz/corpusd/internal/chat"
	"github.com/efebarandurmaz/corpusd/internal/config"
	"github.com/efebarandurmaz/corpusd/internal/llm/openai"
	"github.com/efebarandurmaz/corpusd/internal/observability"
	"github.com/efebarandurmaz/corpusd/internal/retriever"
	"github.com/efebarandurmaz/corpusd/internal/server"
	"github.com/efebarandurmaz/corpusd/internal/vector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ragd",
		Short: "Retrieval-augmented chat service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	rootCmd.Flags().StringVar(&configPath, "config", "configs/corpusd.yaml", "Config file path")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "ragd: %v\n", err)
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
		ServiceName:    "ragd",
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
	qcfg := vector.QdrantConfig{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		Collection: cfg.Vector.Collection,
		Dimensions: cfg.Vector.Dimensions,
	}
	build := func(ctx context.Context) (vector.Store, error) {
		store, err := vector.NewQdrant(ctx, qcfg, embedder)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureCollection(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	}

	reloader := retriever.NewReloader(build, cfg.Retrieval.DrainDelay, log)
	// Stay up when the engine is down at boot: the service reports unready
	// until a later reload succeeds.
	if err := reloader.Reload(ctx); err != nil {
		log.Error("initial vector store load failed, starting unready", "error", err)
	}

	engine := retriever.NewEngine(reloader, cfg.Retrieval.RRFConstant, log)
	provider := openai.New(cfg.LLM.APIKey, cfg.LLM.Model, "", cfg.LLM.BaseURL)
	chatSvc := chat.NewService(engine, provider, chat.Options{
		TopK:        cfg.Retrieval.TopK,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, log)

	router := server.NewRagRouter(
		&server.ChatHandler{Service: chatSvc, Broker: broker, Ready: reloader.Ready, Log: log},
		&server.ReloadHandler{Reloader: reloader, Log: log},
		broker,
	)
	srv := server.New(cfg.Server.Addr, router, log)

	shutdown := server.NewShutdownHandler(0, log)
	shutdown.RegisterHook("http-server", 10, srv.Shutdown)
	shutdown.RegisterHook("retriever", 50, func(ctx context.Context) error {
		return reloader.Close()
	})
	shutdown.RegisterHook("tracing", 80, tp.Shutdown)
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
