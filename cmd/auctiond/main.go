package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhemu/auction-server/internal/catalog"
	"github.com/zhemu/auction-server/internal/coordinator"
	"github.com/zhemu/auction-server/internal/httpapi"
	"github.com/zhemu/auction-server/internal/obs"
	"github.com/zhemu/auction-server/internal/server"
)

func main() {
	// Cancel context on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load() // best effort; env vars win

	addr := getenv("AUCTION_ADDR", ":65432")
	httpAddr := getenv("AUCTION_HTTP_ADDR", ":8080")
	catalogPath := getenv("AUCTION_CATALOG", "auction_items.json")

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	cat, err := catalog.Load(catalogPath)
	if err != nil {
		logger.Fatal("catalog load failed", zap.String("path", catalogPath), zap.Error(err))
	}
	logger.Info("catalog loaded",
		zap.String("path", catalogPath),
		zap.Strings("categories", cat.Categories()))

	metrics := obs.NewMetrics()
	coord := coordinator.New(ctx, coordinator.Config{
		Catalog: cat,
		Logger:  logger,
		Metrics: metrics,
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Fatal("listen failed", zap.String("addr", addr), zap.Error(err))
	}

	httpSrv := &http.Server{
		Addr:              httpAddr,
		Handler:           httpapi.SetupRoutes(coord, cat),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.New(coord, logger).Serve(ctx, ln)
	})
	g.Go(func() error {
		logger.Info("operator API listening", zap.String("addr", httpAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
