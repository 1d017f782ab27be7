package main

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/Zereker/keepalive"
	"github.com/Zereker/keepalive/internal/config"
	"github.com/Zereker/keepalive/internal/httpapi"
)

func clientCmd(configPath *string) *cobra.Command {
	var (
		endpoint endpointFlags
		httpAddr string
	)

	cmd := &cobra.Command{
		Use:   "client",
		Short: "Hold a connection to the server open",
		Long: `Connect to server_host:server_port and keep the link alive.

A heartbeat is sent whenever nothing has been written for
heartbeat_interval_seconds. When the link drops, a reconnect is attempted
every reconnect_delay_seconds until it succeeds. GET or POST /send on
http_addr sends a business request and returns its correlation id.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, &endpoint)
			if err != nil {
				return err
			}
			if httpAddr != "" {
				cfg.HTTPAddr = httpAddr
			}
			return runClient(cfg)
		},
	}

	endpoint.register(cmd)
	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "HTTP listen address (default from config)")

	return cmd
}

func runClient(cfg config.Config) error {
	logger, err := newLogger(cfg, "keepalive-client")
	if err != nil {
		return err
	}

	metrics := keepalive.NewMetrics()
	reg, err := newRegistry(metrics.Register)
	if err != nil {
		return err
	}

	client, err := keepalive.NewClient(cfg.ServerAddr(),
		keepalive.CustomCodecOption(codecFor(cfg)),
		keepalive.HeartbeatOption(cfg.HeartbeatInterval()),
		keepalive.ReconnectDelayOption(cfg.ReconnectDelay()),
		keepalive.DialTimeoutOption(cfg.DialTimeout()),
		keepalive.WriteTimeoutOption(cfg.WriteTimeout()),
		keepalive.LoggerOption(logger),
		keepalive.MetricsOption(metrics),
		keepalive.OnMessageOption(func(m keepalive.Message) {
			logger.Info("received", "command", m.Command.String(),
				"correlation_id", m.CorrelationID, "content", m.Content)
		}),
		keepalive.OnStateChangeOption(func(from, to keepalive.State) {
			logger.Info("state changed", "from", from.String(), "to", to.String())
		}),
	)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := signalContext(logger)
	defer cancel()

	// A failed first connect is retried in the background.
	if err := client.Start(ctx); err != nil && !errors.Is(err, keepalive.ErrConnectFailed) {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.NewRouter(client, reg, logger.Zerolog()),
		ReadHeaderTimeout: 5 * time.Second,
	}
	err = serveHTTP(ctx, srv, logger)
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
