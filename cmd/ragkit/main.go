package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/ragkit/ragkit/internal/ai"
	"github.com/ragkit/ragkit/internal/chunkcache"
	"github.com/ragkit/ragkit/internal/config"
	"github.com/ragkit/ragkit/internal/filestore"
	"github.com/ragkit/ragkit/internal/handler"
	"github.com/ragkit/ragkit/internal/ingest"
	"github.com/ragkit/ragkit/internal/job"
	"github.com/ragkit/ragkit/internal/middleware"
	"github.com/ragkit/ragkit/internal/repo"
	"github.com/ragkit/ragkit/internal/schedule"
	"github.com/ragkit/ragkit/internal/service"
	"github.com/ragkit/ragkit/internal/task"
	"github.com/ragkit/ragkit/internal/vector"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "ragkit",
		Short: "ragkit ingestion server",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run ragkit server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Init(
				cfg.LogConfig.File,
				cfg.LogConfig.Level,
				int(cfg.LogConfig.FileCount),
				int(cfg.LogConfig.FileSize),
				int(cfg.LogConfig.KeepDays),
				cfg.LogConfig.Console,
			)
			logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))

			db, err := repo.Open(cfg.DBDsn)
			if err != nil {
				return fmt.Errorf("open db: %w", err)
			}
			if err := repo.ApplyMigrations(db, cfg.MigrationsDir); err != nil {
				return fmt.Errorf("migrations: %w", err)
			}
			return runServer(cfg, db)
		},
	}

	runCmd.Flags().StringVar(&configPath, "config", "", "path to config.json")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("startup error", zap.Error(err))
	}
}

func runServer(cfg *config.Config, db *sql.DB) error {
	logutil.GetLogger(context.Background()).Info(
		"starting server",
		zap.Int("port", cfg.Port),
		zap.String("file_store", cfg.FileStore.Type),
		zap.String("ai_provider", cfg.AI.Provider),
		zap.Int("workers", cfg.Ingest.Workers),
	)

	kbRepo := repo.NewKnowledgeBaseRepo(db)
	docRepo := repo.NewDocumentRepo(db)
	segRepo := repo.NewSegmentRepo(db)
	chunkCacheRepo := repo.NewChunkCacheRepo(db)
	embedCacheRepo := repo.NewEmbeddingCacheRepo(db)
	vectorStore := vector.NewStore(db, cfg.Vector.Dimension)

	segCache, err := chunkcache.NewSegmentCache(cfg.Cache.SegmentLRUSize, chunkCacheRepo)
	if err != nil {
		return fmt.Errorf("init segment cache: %w", err)
	}
	vecCache, err := chunkcache.NewVectorCache(cfg.Cache.VectorLRUSize, embedCacheRepo)
	if err != nil {
		return fmt.Errorf("init vector cache: %w", err)
	}

	blobStore, err := filestore.New(cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	providerArgs := cfg.AI.Data
	if providerArgs == nil {
		providerArgs = cfg.AI
	}
	aiProvider, err := ai.NewProvider(cfg.AI.Provider, providerArgs)
	if err != nil {
		return fmt.Errorf("init ai provider: %w", err)
	}
	embedder := ai.NewEmbedder(aiProvider, cfg.AI.Model)

	registry := task.NewRegistry()
	orch, err := ingest.NewOrchestrator(ingest.Options{
		Workers:      cfg.Ingest.Workers,
		QueueSize:    cfg.Ingest.QueueSize,
		BatchSize:    cfg.Ingest.BatchSize,
		MaxRetries:   cfg.Ingest.MaxRetries,
		BaseDelay:    time.Duration(cfg.Ingest.BaseDelayMs) * time.Millisecond,
		TaskTimeout:  time.Duration(cfg.Ingest.TaskTimeoutSec) * time.Second,
		DrainTimeout: time.Duration(cfg.Ingest.DrainTimeoutSec) * time.Second,
	}, registry, docRepo, kbRepo, segRepo, blobStore, vectorStore, segCache, vecCache, embedder)
	if err != nil {
		return fmt.Errorf("init orchestrator: %w", err)
	}

	kbService := service.NewKnowledgeBaseService(kbRepo)
	documentService := service.NewDocumentService(docRepo, segRepo, kbRepo, blobStore, vectorStore, orch)

	scheduler := schedule.NewCronScheduler()
	if spec := cfg.Schedule.TaskCleanupSpec; spec != "" {
		if err := scheduler.AddJob(job.NewTaskCleanupJob(registry, cfg.Schedule.TaskRetentionDays), spec); err != nil {
			return fmt.Errorf("schedule task cleanup: %w", err)
		}
	}
	if spec := cfg.Schedule.IngestRetrySpec; spec != "" {
		if err := scheduler.AddJob(job.NewIngestRetryJob(docRepo, documentService, cfg.Schedule.IngestRetryBatch), spec); err != nil {
			return fmt.Errorf("schedule ingest retry: %w", err)
		}
	}

	deps := handler.RouterDeps{
		KnowledgeBases: handler.NewKnowledgeBaseHandler(kbService, orch),
		Documents:      handler.NewDocumentHandler(documentService),
		Tasks:          handler.NewTaskHandler(registry),
		Admin:          handler.NewAdminHandler(segCache, vecCache, registry),
		JWTSecret:      []byte(cfg.JWTSecret),
		UploadWindow:   time.Duration(cfg.UploadWindowMs) * time.Millisecond,
	}

	engine, err := webapi.NewEngine(
		"/api",
		fmt.Sprintf("0.0.0.0:%d", cfg.Port),
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(context.Background()).Info("http server listening", zap.String("addr", fmt.Sprintf("0.0.0.0:%d", cfg.Port)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logutil.GetLogger(context.Background()).Info("server stopping...")
	scheduler.Stop()
	orch.Close()
	return nil
}
