// FileDepot Server
//
// Features:
// - Hierarchical folder/file metadata backed by PostgreSQL
// - Content blobs on local disk with atomic writes
// - Per-owner storage quota enforcement
// - Soft delete (trash) with restore and permanent purge
// - Signed short-lived file download tokens
// - Metadata search and file key-value properties
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/filedepot/filedepot/internal/account"
	"github.com/filedepot/filedepot/internal/api"
	"github.com/filedepot/filedepot/internal/auth"
	"github.com/filedepot/filedepot/internal/blob"
	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/files"
	"github.com/filedepot/filedepot/internal/folders"
	"github.com/filedepot/filedepot/internal/lifecycle"
	"github.com/filedepot/filedepot/internal/logging"
	"github.com/filedepot/filedepot/internal/metadata/postgres"
	"github.com/filedepot/filedepot/internal/metrics"
	"github.com/filedepot/filedepot/internal/property"
	"github.com/filedepot/filedepot/internal/quota"
	"github.com/filedepot/filedepot/internal/search"
	"github.com/filedepot/filedepot/internal/token"
	"github.com/filedepot/filedepot/internal/trash"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("FileDepot Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	logging.Info("connecting to PostgreSQL...")
	metaStore, err := postgres.New(cfg.DatabaseURL)
	if err != nil {
		logging.Fatal("database connection failed", zap.Error(err))
	}
	defer metaStore.Close()

	// Run migrations
	migrationsDir := findMigrationsDir()
	if migrationsDir != "" {
		logging.Info("running migrations...", zap.String("dir", migrationsDir))
		if err := metaStore.Migrate(migrationsDir); err != nil {
			logging.Fatal("migration failed", zap.Error(err))
		}
	}

	// Initialize blob storage
	blobs, err := blob.New(cfg.BaseDir)
	if err != nil {
		logging.Fatal("blob store init failed", zap.Error(err))
	}
	logging.Info("blob store initialized", zap.String("base_dir", cfg.BaseDir))

	// Wire up the services
	resolver := lifecycle.NewCoordinator(blobs)
	accountant := quota.NewAccountant(cfg.StorageLimit)
	tokens := token.NewIssuer(cfg.FileTokenSecret, cfg.FileTokenValidity)

	accountSvc := account.NewService(metaStore, resolver)
	folderSvc := folders.NewService(metaStore, resolver)
	fileSvc := files.NewService(metaStore, blobs, accountant, tokens, resolver)
	trashSvc := trash.NewService(metaStore, resolver)
	propertySvc := property.NewService(metaStore)
	searchSvc := search.NewService(metaStore)
	authHandler := auth.New(metaStore, cfg.JWTSecret)

	srv := api.NewServer(
		accountSvc, folderSvc, fileSvc, trashSvc,
		propertySvc, searchSvc, authHandler, cfg.MaxUploadSize,
	)

	// Start metrics server
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: metrics.Handler(),
	}
	go func() {
		logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logging.Error("metrics server error", zap.Error(err))
		}
	}()

	// Start HTTP server
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
		httpServer.Close()
		metricsServer.Close()
	}()

	// Start periodic metrics update
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				metaStore.UpdateConnectionMetrics()
			}
		}
	}()

	logging.Info("server listening", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func findMigrationsDir() string {
	candidates := []string{
		"migrations",
		"../migrations",
	}

	exe, _ := os.Executable()
	if exe != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(exe), "migrations"))
	}

	for _, c := range candidates {
		if info, err := os.Stat(c); err == nil && info.IsDir() {
			return c
		}
	}
	return ""
}
