package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kiesman99/dpsconvert/internal/logging"
	"github.com/kiesman99/dpsconvert/internal/server"
)

func newServeCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP server for the conversion API",
		Long: `Start an HTTP server that converts single map images on request.

Endpoints:
  GET  /api/v1/health
  POST /api/v1/convert?pixels=40&scale=5&optimize=300&variant=preview|final
  POST /api/v1/footprint?pixels=40&scale=5

Both POST endpoints take the PNG image as request body.

Examples:
  # Start server on default port 8080
  dpsconvert serve

  # Start server with custom bind address
  dpsconvert serve --bind 0.0.0.0 --port 3000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, v)
		},
	}

	// Server configuration
	serveCmd.Flags().StringP("bind", "b", "localhost", "bind address")
	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	serveCmd.Flags().Duration("timeout", 30*time.Second, "request timeout")

	// Bind flags to viper
	v.BindPFlag("server.bind", serveCmd.Flags().Lookup("bind"))
	v.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	v.BindPFlag("server.timeout", serveCmd.Flags().Lookup("timeout"))

	return serveCmd
}

func runServe(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	logger := logging.FromContext(ctx)

	bind := v.GetString("server.bind")
	port := v.GetInt("server.port")
	timeout := v.GetDuration("server.timeout")

	if port < 1 || port > 65535 {
		return fmt.Errorf("port: %d is out of range", port)
	}
	if timeout <= 0 {
		return fmt.Errorf("timeout: %s must be positive", timeout)
	}

	addr := fmt.Sprintf("%s:%d", bind, port)

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      server.NewRouter(server.NewServer(version), timeout),
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		BaseContext: func(net.Listener) context.Context {
			return logging.WithLogger(context.Background(), logger)
		},
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()

		logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "err", err)
		}
	}()

	logger.Info("Starting dpsconvert server", "addr", addr)
	logger.Info("Health check", "url", fmt.Sprintf("http://%s/api/v1/health", addr))
	logger.Info("Convert endpoint", "url", fmt.Sprintf("http://%s/api/v1/convert", addr))

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("server error: %v", err)
	}

	return nil
}
