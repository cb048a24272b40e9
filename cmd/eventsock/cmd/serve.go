package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/eventsock/pkg/eventsock/greeter"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets/server"
	"go.uber.org/zap"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run a server that answers greetings",
	Long: `Run an eventsock server. Every "my event" a client emits is answered with a
"my response" event carrying the same payload.

Examples:
  eventsock serve
  eventsock serve --listen :9000 --path /events
  eventsock serve --config server.hcl
  eventsock serve --authorization "Bearer s3cret" --allow-event "my event"`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveConfigPaths   []string
	serveListen        string
	servePath          string
	serveAuthorization string
	serveAllowEvents   []string
	serveReadLimit     int64
)

// shutdownTimeout bounds graceful shutdown of the listener and HTTP server.
const shutdownTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringSliceVarP(&serveConfigPaths, "config", "c", nil, "HCL config files or directories")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default \":8080\")")
	serveCmd.Flags().StringVar(&servePath, "path", "", "WebSocket endpoint path (default \"/ws\")")
	serveCmd.Flags().StringVar(&serveAuthorization, "authorization", "", "Authorization header value clients must send, e.g. \"Bearer s3cret\"")
	serveCmd.Flags().StringArrayVar(&serveAllowEvents, "allow-event", nil, "event name or pattern clients may emit (repeatable, default all)")
	serveCmd.Flags().Int64Var(&serveReadLimit, "read-limit", 0, "largest accepted inbound frame in bytes, -1 for no limit (default 1 MiB)")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger, serveConfigPaths)
	if err != nil {
		return err
	}
	serverCfg := cfg.Server
	if serveListen != "" {
		serverCfg.Listen = serveListen
	}
	if servePath != "" {
		serverCfg.Path = servePath
	}
	if serveAuthorization != "" {
		serverCfg.Authorization = serveAuthorization
	}
	if len(serveAllowEvents) > 0 {
		serverCfg.AllowEvents = serveAllowEvents
	}
	if serveReadLimit != 0 {
		serverCfg.ReadLimit = serveReadLimit
	}

	listenerConfig := server.NewListenerConfig().
		WithLogger(logger).
		WithPingInterval(serverCfg.PingInterval).
		WithReadTimeout(serverCfg.ReadTimeout).
		WithWriteTimeout(serverCfg.WriteTimeout).
		WithReadLimit(serverCfg.ReadLimit).
		WithTelemetry(websockets.NewTelemetry("server", Version)).
		OnConnect(func(ctx context.Context, conn *server.Connection) error {
			logger.Info("Client connected", zap.String("connection_id", conn.ID()))
			return nil
		})

	if serverCfg.Authorization != "" {
		listenerConfig.WithAuthorizer(server.RequireAuthorization(serverCfg.Authorization))
	}
	if len(serverCfg.AllowEvents) > 0 {
		listenerConfig.WithEventAuth(server.AllowEventPatterns(serverCfg.AllowEvents...))
	}

	listener, err := greeter.AttachResponder(listenerConfig).Build()
	if err != nil {
		return fmt.Errorf("failed to create WebSocket listener: %w", err)
	}

	httpServer := &http.Server{
		Addr:              serverCfg.Listen,
		Handler:           server.NewRouter(serverCfg.Path, listener, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- httpServer.ListenAndServe()
	}()

	logger.Info("Server started",
		zap.String("listen", serverCfg.Listen),
		zap.String("path", serverCfg.Path),
		zap.Duration("ping-interval", serverCfg.PingInterval),
		zap.Bool("authorization", serverCfg.Authorization != ""),
		zap.Strings("allow-events", serverCfg.AllowEvents),
	)

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigs)

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to listen and serve: %w", err)
	case sig := <-sigs:
		logger.Info("Terminating", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// Hijacked WebSocket connections are not tracked by http.Server.Shutdown.
	if err := listener.Shutdown(ctx); err != nil {
		logger.Warn("WebSocket shutdown incomplete", zap.Error(err))
	}

	return httpServer.Shutdown(ctx)
}
