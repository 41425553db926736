package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rl1809/rack-inventory/internal/adapter/handler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP and gRPC servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		a, err := bootstrap(ctx, true)
		if err != nil {
			return err
		}
		return serve(ctx, a)
	},
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger

	grpcServer := handler.NewGRPCServer(handler.NewGRPCHandler(a.inventory), logger)
	lis, err := net.Listen("tcp", a.cfg.GRPCAddr)
	if err != nil {
		a.close(context.Background())
		return err
	}

	go func() {
		logger.Info("gRPC server listening", zap.String("addr", a.cfg.GRPCAddr))
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler.NewHTTPHandler(a.inventory, logger).Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", zap.String("addr", a.cfg.HTTPAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err = <-serveErr:
		logger.Error("HTTP server error", zap.Error(err))
	}

	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	if cerr := a.close(shutdownCtx); cerr != nil {
		logger.Warn("failed to close resources cleanly", zap.Error(cerr))
	}
	return err
}
