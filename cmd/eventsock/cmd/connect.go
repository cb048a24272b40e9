package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tsarna/eventsock/pkg/eventsock"
	"github.com/tsarna/eventsock/pkg/eventsock/greeter"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets"
	"github.com/tsarna/eventsock/pkg/eventsock/websockets/client"
	"go.uber.org/zap"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect [websocket-url]",
	Short: "Connect, greet the server and print its responses",
	Long: `Connect to an eventsock server. As soon as the connection opens the client
emits "my event" with {"data": "I'm connected!"}. Every "my response" event
the server sends is printed to stdout exactly as received, one per line.

The URL may come from the argument or from the client block of a config file.

Examples:
  eventsock connect ws://localhost:8080/ws
  eventsock connect --config client.hcl
  eventsock connect ws://localhost:8080/ws -H X-API-Key=key123 --duration 5s
  eventsock connect ws://localhost:8080/ws --log-event status --log-event 'alerts/#'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var (
	connectConfigPaths   []string
	connectDialTimeout   time.Duration
	connectHeaders       map[string]string
	connectAuthorization string
	connectDuration      time.Duration
	connectLogEvents     []string
	connectReadLimit     int64
)

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().StringSliceVarP(&connectConfigPaths, "config", "c", nil, "HCL config files or directories")
	connectCmd.Flags().DurationVar(&connectDialTimeout, "dial-timeout", 10*time.Second, "WebSocket dial timeout")
	connectCmd.Flags().StringToStringVarP(&connectHeaders, "header", "H", nil, "extra handshake header (key=value)")
	connectCmd.Flags().StringVar(&connectAuthorization, "authorization", "", "Authorization header value")
	connectCmd.Flags().DurationVar(&connectDuration, "duration", 0, "disconnect after this long (0 waits for a signal or server close)")
	connectCmd.Flags().Int64Var(&connectReadLimit, "read-limit", 0, "largest accepted inbound frame in bytes, -1 for no limit (default 1 MiB)")
	connectCmd.Flags().StringArrayVar(&connectLogEvents, "log-event", nil, "also log every event matching this name or pattern, \"#\" for all (repeatable)")
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger, err := setupLogger()
	if err != nil {
		return fmt.Errorf("failed to setup logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := loadConfig(logger, connectConfigPaths)
	if err != nil {
		return err
	}
	clientCfg := cfg.Client

	// flags override the config file
	if len(args) == 1 {
		clientCfg.URL = args[0]
	}
	if cmd.Flags().Changed("dial-timeout") || len(connectConfigPaths) == 0 {
		clientCfg.DialTimeout = connectDialTimeout
	}
	if connectAuthorization != "" {
		clientCfg.Authorization = connectAuthorization
	}
	if connectReadLimit != 0 {
		clientCfg.ReadLimit = connectReadLimit
	}
	if clientCfg.URL == "" {
		return errors.New("a WebSocket URL is required, either as an argument or as client.url in a config file")
	}

	logger.Info("Connecting",
		zap.String("url", clientCfg.URL),
		zap.Duration("dial-timeout", clientCfg.DialTimeout),
		zap.Duration("duration", connectDuration),
	)

	g := greeter.New(cmd.OutOrStdout(), logger)

	builder := client.NewClient().
		WithURL(clientCfg.URL).
		WithLogger(logger).
		WithDialTimeout(clientCfg.DialTimeout).
		WithWriteChannelSize(clientCfg.WriteChannelSize).
		WithReadLimit(clientCfg.ReadLimit).
		WithTelemetry(websockets.NewTelemetry("client", Version)).
		On(websockets.ErrorEvent, func(ctx context.Context, payload json.RawMessage) error {
			logger.Warn("Server refused an event", zap.ByteString("payload", payload))
			return nil
		}).
		OnDisconnect(func(ctx context.Context, err error) {
			if err != nil {
				logger.Warn("Connection lost", zap.Error(err))
			}
		})

	for key, value := range clientCfg.Headers {
		builder.WithHeader(key, value)
	}
	for key, value := range connectHeaders {
		builder.WithHeader(key, value)
	}
	if clientCfg.Authorization != "" {
		builder.WithAuthorization(clientCfg.Authorization)
	}
	for _, event := range connectLogEvents {
		builder.OnMatch(event, eventsock.LoggingHandler(nil, logger, zap.InfoLevel, event))
	}

	wsClient, err := g.Attach(builder).Build()
	if err != nil {
		return fmt.Errorf("failed to create WebSocket client: %w", err)
	}

	// The connection outlives the signal context so it can be closed gracefully.
	if err := wsClient.Connect(context.Background()); err != nil {
		return fmt.Errorf("failed to connect to WebSocket server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if connectDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, connectDuration)
		defer cancel()
	}

	select {
	case <-ctx.Done():
		logger.Debug("Stopping", zap.NamedError("reason", context.Cause(ctx)))
		if err := wsClient.Disconnect(); err != nil {
			logger.Warn("Error during client disconnect", zap.Error(err))
		}
	case <-wsClient.Done():
		logger.Info("Server closed the connection")
	}

	logger.Info("Shutdown complete")
	return nil
}
