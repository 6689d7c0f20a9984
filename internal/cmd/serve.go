package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/MeKo-Tech/zoomtile/internal/blobstore"
	"github.com/MeKo-Tech/zoomtile/internal/ingest"
	"github.com/MeKo-Tech/zoomtile/internal/pyramid"
	"github.com/MeKo-Tech/zoomtile/internal/registry"
	"github.com/MeKo-Tech/zoomtile/internal/server"
	"github.com/MeKo-Tech/zoomtile/internal/tiling"
	"github.com/MeKo-Tech/zoomtile/internal/worker"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the pyramid ingestion and tile server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("listen-port", 8080, "HTTP port")
	serveCmd.Flags().String("blob-store-endpoint", "sqlite:./zoomtile-blobs.db",
		"Blob backend: mem:, sqlite:PATH, or s3://KEY:SECRET@host/bucket")
	serveCmd.Flags().String("document-store-endpoint", "mem:",
		"Descriptor backend: mem: or a mongodb:// connection string")

	serveCmd.Flags().Int("tile-width", 512, "Tile grid cell width in pixels")
	serveCmd.Flags().Int("tile-height", 512, "Tile grid cell height in pixels")
	serveCmd.Flags().Int("brotli-quality", 10, "Brotli quality (0-11)")
	serveCmd.Flags().Int("brotli-window-log2", 24, "Brotli window log2 (10-24)")

	serveCmd.Flags().Int("worker-pool-size", runtime.NumCPU(), "Bounded CPU worker count")
	serveCmd.Flags().Int("tiling-queue-size", 64, "Pending tiling jobs accepted before ingest returns 503")
	serveCmd.Flags().Duration("ingest-deadline", 2*time.Minute, "Per-request deadline for ingest")
	serveCmd.Flags().Int64("max-body-bytes", 256<<20, "Upper bound on upload size")
	serveCmd.Flags().Duration("shutdown-timeout", 30*time.Second, "How long to drain tiling jobs on shutdown")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, serveCmd.Flags().Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("listen_port", "listen-port")
	mustBind("blob_store_endpoint", "blob-store-endpoint")
	mustBind("document_store_endpoint", "document-store-endpoint")
	mustBind("tile_width", "tile-width")
	mustBind("tile_height", "tile-height")
	mustBind("brotli_quality", "brotli-quality")
	mustBind("brotli_window_log2", "brotli-window-log2")
	mustBind("worker_pool_size", "worker-pool-size")
	mustBind("tiling_queue_size", "tiling-queue-size")
	mustBind("ingest_deadline", "ingest-deadline")
	mustBind("max_body_bytes", "max-body-bytes")
	mustBind("shutdown_timeout", "shutdown-timeout")
}

func runServe(cmd *cobra.Command, args []string) error {
	if logger == nil {
		initLogging()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	comp, err := pyramid.NewCompressor(
		viper.GetInt("brotli_quality"),
		viper.GetInt("brotli_window_log2"))
	if err != nil {
		return err
	}

	blobs, err := blobstore.Open(ctx, viper.GetString("blob_store_endpoint"))
	if err != nil {
		return err
	}
	defer blobs.Close()

	reg, err := openRegistry(ctx, viper.GetString("document_store_endpoint"))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := reg.Close(closeCtx); err != nil {
			logger.Warn("document store close failed", "error", err)
		}
	}()

	pool := worker.New(viper.GetInt("worker_pool_size"))
	tiler := tiling.New(tiling.Config{
		Blobs:      blobs,
		Registry:   reg,
		Pool:       pool,
		Compressor: comp,
		TileWidth:  viper.GetInt("tile_width"),
		TileHeight: viper.GetInt("tile_height"),
		QueueSize:  viper.GetInt("tiling_queue_size"),
		Runners:    max(1, pool.Size()/2),
		Logger:     logger,
	})
	tiler.Start()

	svc := ingest.NewService(blobs, reg, tiler, logger)
	srv := server.New(svc, reg, blobs, server.Config{
		MaxBodyBytes:   viper.GetInt64("max_body_bytes"),
		IngestDeadline: viper.GetDuration("ingest_deadline"),
	}, logger)

	addr := fmt.Sprintf(":%d", viper.GetInt("listen_port"))
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening",
			"addr", addr,
			"blob_store", viper.GetString("blob_store_endpoint"),
			"document_store", viper.GetString("document_store_endpoint"),
			"tile_size", fmt.Sprintf("%dx%d", viper.GetInt("tile_width"), viper.GetInt("tile_height")),
			"worker_pool_size", pool.Size(),
		)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		// Bind failures and other listener errors end the process with a
		// non-zero exit through Execute.
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), viper.GetDuration("shutdown_timeout"))
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if err := tiler.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tiling jobs left unfinished; their pyramids stay in processing", "error", err)
	}
	return nil
}

func openRegistry(ctx context.Context, endpoint string) (registry.Registry, error) {
	switch {
	case endpoint == "mem:" || endpoint == "mem":
		return registry.NewMemRegistry(), nil
	case strings.HasPrefix(endpoint, "mongodb://"), strings.HasPrefix(endpoint, "mongodb+srv://"):
		return registry.NewMongoRegistry(ctx, endpoint)
	}
	return nil, errors.New("unrecognized document store endpoint " + endpoint)
}
