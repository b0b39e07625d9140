package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"magnet-queue/internal/config"
	"magnet-queue/internal/downloader"
	"magnet-queue/internal/engine/anacrolix"
	apphttp "magnet-queue/internal/http"
	"magnet-queue/internal/metrics"
	"magnet-queue/internal/repository"
	"magnet-queue/internal/repository/sqlite"
	"magnet-queue/internal/service"
	"magnet-queue/internal/storage"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "magnetq",
		Short: "Queue magnet downloads with bounded concurrency",
		// Running without a subcommand starts the server.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ./config.{yaml,toml,json})")

	rootCmd.AddCommand(serveCommand(&configPath))
	rootCmd.AddCommand(matchCommand())
	rootCmd.AddCommand(tokenCommand(&configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the scheduler and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath)
		},
	}
}

func tokenCommand(configPath *string) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)
	command := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			token, err := apphttp.IssueToken(cfg.Auth.JWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	command.Flags().StringVar(&subject, "subject", "admin", "token subject")
	command.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime, 0 for no expiry")
	return command
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := cfg.NewLogger()
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}

	metrics.Register(prometheus.DefaultRegisterer)

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	itemRepo := sqlite.NewItemRepository(db)
	if err := itemRepo.Init(ctx); err != nil {
		return fmt.Errorf("init item repository: %w", err)
	}

	var s3Client *s3.Client
	if cfg.NeedsS3() {
		if s3Client, err = buildS3Client(ctx, cfg, logger); err != nil {
			return fmt.Errorf("setup storage: %w", err)
		}
	}

	resumeStore, err := buildResumeStore(ctx, cfg, db, s3Client)
	if err != nil {
		return fmt.Errorf("setup resume store: %w", err)
	}

	var exporter storage.Exporter
	if cfg.Export.Enabled {
		exporter = storage.NewS3Exporter(s3Client)
	}

	eng, err := anacrolix.New(anacrolix.Config{
		DataDir:      cfg.Download.DataDir,
		ListenPort:   cfg.Download.ListenPort,
		DownloadRate: cfg.Download.RateLimit,
		Logger:       logger,
	})
	if err != nil {
		logger.Fatalf("start transfer engine: %v", err)
	}
	defer func() {
		if err := eng.Close(); err != nil {
			logger.Warnf("close transfer engine: %v", err)
		}
	}()

	manager := downloader.NewManager(downloader.Config{
		MaxConcurrent:   cfg.Scheduler.MaxConcurrent,
		VerifyThreshold: cfg.Scheduler.VerifyThreshold,
		Completion:      downloader.CompletionPolicy(cfg.Scheduler.Completion),
		TickInterval:    cfg.Scheduler.TickInterval,
		StatusInterval:  cfg.Scheduler.StatusInterval,
		ResumeInterval:  cfg.Scheduler.ResumeInterval,
		ShutdownGrace:   cfg.Scheduler.ShutdownGrace,
		QueueSize:       cfg.Scheduler.QueueSize,
		Logger:          logger,
	}, eng, resumeStore)

	hub := apphttp.NewHub(logger)
	items := service.NewItemService(service.Config{
		DataRoot: cfg.Download.DataDir,
		Export: service.ExportConfig{
			Enabled:     cfg.Export.Enabled,
			Bucket:      cfg.Storage.Bucket,
			KeyPrefix:   cfg.Storage.KeyPrefix,
			Concurrency: cfg.Export.Concurrency,
		},
		Logger: logger,
	}, manager, itemRepo, exporter, hub)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	apphttp.NewHandler(items, hub, apphttp.Options{
		JWTSecret: cfg.Auth.JWTSecret,
		Match: apphttp.MatchDefaults{
			Resolution: cfg.Match.Resolution,
			Excluded:   cfg.Match.Excluded,
			Codecs:     cfg.Match.Codecs,
		},
		Logger: logger,
	}).RegisterRoutes(router)
	if cfg.Auth.JWTSecret == "" {
		logger.Warn("auth.jwtsecret is empty, the API is unauthenticated")
	}

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return manager.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	// The consumer outlives gctx so shutdown notifications still reach the database.
	g.Go(func() error { return items.Watch(context.WithoutCancel(gctx)) })
	g.Go(func() error {
		if _, err := items.Restore(gctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warnf("restore items: %v", err)
		}
		return nil
	})
	g.Go(func() error {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("http shutdown: %v", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info("bye")
	return err
}

func buildResumeStore(ctx context.Context, cfg config.Config, db *sql.DB, client *s3.Client) (repository.ResumeRepository, error) {
	if cfg.Resume.Backend == "s3" {
		store, err := storage.NewS3ResumeStore(client, cfg.Storage.Bucket, cfg.Resume.KeyPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
	store := sqlite.NewResumeRepository(db)
	if err := store.Init(ctx); err != nil {
		return nil, fmt.Errorf("init resume repository: %w", err)
	}
	return store, nil
}

func buildS3Client(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*s3.Client, error) {
	if cfg.Storage.Bucket == "" {
		return nil, fmt.Errorf("storage bucket is required")
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Storage.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Storage.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Storage.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("using s3 bucket %s (region %s)", cfg.Storage.Bucket, cfg.Storage.Region)
	return client, nil
}
