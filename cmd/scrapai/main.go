// Package main wires together the ingestion service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	gcsclient "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/scrapai/scrapai/internal/api"
	"github.com/scrapai/scrapai/internal/clock/system"
	"github.com/scrapai/scrapai/internal/config"
	"github.com/scrapai/scrapai/internal/crawl"
	"github.com/scrapai/scrapai/internal/dispatcher"
	openaiembedder "github.com/scrapai/scrapai/internal/embedder/openai"
	"github.com/scrapai/scrapai/internal/extractor"
	headlessfetcher "github.com/scrapai/scrapai/internal/fetcher/headless"
	staticfetcher "github.com/scrapai/scrapai/internal/fetcher/static"
	frontiermem "github.com/scrapai/scrapai/internal/frontier/memory"
	frontierpg "github.com/scrapai/scrapai/internal/frontier/postgres"
	"github.com/scrapai/scrapai/internal/hash/sha256"
	"github.com/scrapai/scrapai/internal/id/uuid"
	"github.com/scrapai/scrapai/internal/indexer"
	"github.com/scrapai/scrapai/internal/logging"
	"github.com/scrapai/scrapai/internal/metrics"
	pagemem "github.com/scrapai/scrapai/internal/pagestore/memory"
	pagepg "github.com/scrapai/scrapai/internal/pagestore/postgres"
	"github.com/scrapai/scrapai/internal/politeness"
	storagegcs "github.com/scrapai/scrapai/internal/storage/gcs"
	storagelocal "github.com/scrapai/scrapai/internal/storage/local"
	storagemem "github.com/scrapai/scrapai/internal/storage/memory"
	"github.com/scrapai/scrapai/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	frontier, pages, embeddings, closeStores, err := buildStores(ctx, cfg, idGen, clk)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer closeStores()

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	gate := politeness.New(politeness.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		MinDelay:      cfg.RequestDelay(),
	}, logger.Named("politeness"))

	fetcher, closeFetcher, err := buildFetcher(cfg)
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}
	defer closeFetcher()

	extract := extractor.New(hasher, extractor.Config{})

	var runners []dispatcher.Runner
	for i := 0; i < cfg.Crawler.MaxConcurrentWorkers; i++ {
		runners = append(runners, worker.New(
			worker.Config{
				MinWordCount:   cfg.Crawler.MinWordCount,
				IdlePoll:       time.Duration(cfg.Crawler.IdlePollSeconds) * time.Second,
				ItemDelay:      cfg.RequestDelay(),
				RawContentType: cfg.Storage.ContentType,
			},
			worker.Options{
				Frontier:  frontier,
				Gate:      gate,
				Fetcher:   fetcher,
				Extractor: extract,
				Pages:     pages,
				Blobs:     blobs,
				IDs:       idGen,
				Clock:     clk,
				Logger:    logger.Named("worker").With(zap.Int("index", i)),
			},
		))
	}

	if cfg.Embedding.Endpoint != "" {
		embedder, err := openaiembedder.New(openaiembedder.Config{
			Endpoint: cfg.Embedding.Endpoint,
			APIKey:   cfg.Embedding.APIKey,
			Model:    cfg.Embedding.Model,
			Timeout:  time.Duration(cfg.Embedding.TimeoutSeconds) * time.Second,
		})
		if err != nil {
			logger.Fatal("embedder init failed", zap.Error(err))
		}
		runners = append(runners, indexer.New(
			indexer.Config{
				BatchSize: cfg.Embedding.BatchSize,
				IdlePoll:  time.Duration(cfg.Embedding.IdlePollSeconds) * time.Second,
			},
			embeddings,
			embedder,
			logger.Named("indexer"),
		))
	} else {
		logger.Warn("embedding.endpoint not set, indexer disabled")
	}

	dispatch := dispatcher.New(runners...)
	apiServer := api.NewServer(frontier, pages, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("runners", len(runners)))
		dispatch.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildStores selects Postgres when a DSN is configured, otherwise the
// in-memory stores.
func buildStores(
	ctx context.Context,
	cfg config.Config,
	idGen crawl.IDGenerator,
	clk crawl.Clock,
) (crawl.Frontier, crawl.PageStore, crawl.EmbeddingStore, func(), error) {
	if cfg.DB.DSN == "" {
		store := pagemem.New(idGen, clk)
		frontier := frontiermem.New(frontiermem.Config{MaxAttempts: cfg.Crawler.MaxAttempts}, idGen, clk)
		return frontier, store, store, func() {}, nil
	}

	frontier, err := frontierpg.New(ctx, frontierpg.Config{
		DSN:         cfg.DB.DSN,
		MaxConns:    cfg.DB.MaxConns,
		MaxAttempts: cfg.Crawler.MaxAttempts,
	}, idGen, clk)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("frontier: %w", err)
	}
	store, err := pagepg.New(ctx, pagepg.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	}, idGen, clk)
	if err != nil {
		frontier.Close()
		return nil, nil, nil, nil, fmt.Errorf("page store: %w", err)
	}
	if err := frontier.EnsureSchema(ctx); err != nil {
		frontier.Close()
		store.Close()
		return nil, nil, nil, nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		frontier.Close()
		store.Close()
		return nil, nil, nil, nil, err
	}
	closeAll := func() {
		frontier.Close()
		store.Close()
	}
	return frontier, store, store, closeAll, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawl.BlobStore, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return storagemem.NewBlobStore(), nil
	case "local":
		return storagelocal.New(storagelocal.Config{BaseDir: cfg.Storage.BaseDir})
	case "gcs":
		client, err := gcsclient.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		return storagegcs.New(client, storagegcs.Config{Bucket: cfg.Storage.GCSBucket})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

func buildFetcher(cfg config.Config) (crawl.Fetcher, func(), error) {
	switch cfg.Fetcher.Strategy {
	case "headless":
		f, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		return f, f.Close, nil
	default:
		f := staticfetcher.New(staticfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		})
		return f, func() {}, nil
	}
}
