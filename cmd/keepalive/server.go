package main

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Zereker/keepalive"
	"github.com/Zereker/keepalive/internal/config"
	"github.com/Zereker/keepalive/internal/httpapi"
)

func serverCmd(configPath *string) *cobra.Command {
	var (
		endpoint    endpointFlags
		metricsAddr string
		drain       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Accept connections and answer heartbeats and requests",
		Long: `Listen on server_host:server_port and run one connection per peer.

Heartbeat requests are answered with "pong" and business requests with
"ok", both echoing the request's correlation id. Peers that stay silent
for read_idle_timeout_seconds are disconnected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath, &endpoint)
			if err != nil {
				return err
			}
			return runServer(cfg, metricsAddr, drain)
		},
	}

	endpoint.register(cmd)
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics on this address (disabled when empty)")
	cmd.Flags().DurationVar(&drain, "drain", 5*time.Second, "How long open connections may drain on shutdown")

	return cmd
}

func runServer(cfg config.Config, metricsAddr string, drain time.Duration) error {
	logger, err := newLogger(cfg, "keepalive-server")
	if err != nil {
		return err
	}

	addr, err := net.ResolveTCPAddr("tcp", cfg.ServerAddr())
	if err != nil {
		return errors.Wrapf(err, "resolve %s", cfg.ServerAddr())
	}

	metrics := keepalive.NewMetrics()
	reg, err := newRegistry(metrics.RegisterServer)
	if err != nil {
		return err
	}

	server, err := keepalive.New(addr,
		keepalive.ServerLoggerOption(logger),
		keepalive.ServerShutdownTimeoutOption(drain),
	)
	if err != nil {
		return errors.Wrapf(err, "listen %s", addr)
	}

	handler := keepalive.NewConnHandler(
		keepalive.CustomCodecOption(codecFor(cfg)),
		keepalive.ReadTimeoutOption(cfg.ReadIdleTimeout()),
		keepalive.WriteTimeoutOption(cfg.WriteTimeout()),
		keepalive.LoggerOption(logger),
		keepalive.MetricsOption(metrics),
	)

	ctx, cancel := signalContext(logger)
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return server.Serve(ctx, handler)
	})

	if metricsAddr != "" {
		srv := &http.Server{
			Addr:              metricsAddr,
			Handler:           httpapi.NewMetricsRouter(reg, logger.Zerolog()),
			ReadHeaderTimeout: 5 * time.Second,
		}
		group.Go(func() error {
			return serveHTTP(ctx, srv, logger)
		})
	}

	err = group.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
