package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/lucasew/easysave/internal/backend"
	"github.com/lucasew/easysave/internal/savedevice"
	"github.com/lucasew/easysave/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serves the save device over HTTP and gRPC on one port",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("server.addr", ":8080", "HTTP and gRPC listen address")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("server.addr"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loc, err := newLocalizer(cfg)
	if err != nil {
		return err
	}

	device, err := backend.NewDevice(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := device.Close(); err != nil {
			logger.Error("failed to close device", "error", err)
		}
	}()

	auth := server.NewAuthenticator(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if auth == nil {
		logger.Warn("auth.jwt_secret is not set, the API is open")
	}

	grpcSrv := server.NewGrpcServer(device, auth, logger).NewServer()
	httpSrv := server.NewHttpServer(
		server.NewAPI(device, loc, logger),
		server.NewEventServer(device, logger),
		server.NewAuthMiddleware(auth, logger),
		logger,
	)

	// Multiplex
	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	m := cmux.New(lis)
	grpcL := m.Match(cmux.HTTP2HeaderField("content-type", "application/grpc"))
	httpL := m.Match(cmux.Any())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	if shared, ok := device.(*savedevice.SharedDevice); ok {
		g.Go(func() error { return shared.Run(ctx) })
	}
	g.Go(func() error {
		if err := grpcSrv.Serve(grpcL); err != nil && !errors.Is(err, cmux.ErrListenerClosed) {
			return fmt.Errorf("grpc serve error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := httpSrv.Serve(httpL); err != nil && !errors.Is(err, http.ErrServerClosed) && !errors.Is(err, cmux.ErrListenerClosed) {
			return fmt.Errorf("http serve error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := m.Serve(); err != nil && !errors.Is(err, net.ErrClosed) {
			return fmt.Errorf("cmux serve error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Open event streams only end when the device closes.
		if err := device.Close(); err != nil {
			logger.Error("failed to close device", "error", err)
		}
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		m.Close()
		return nil
	})

	logger.Info("easysave listening", "addr", cfg.Server.Addr, "mode", cfg.Device.Mode)
	return g.Wait()
}
