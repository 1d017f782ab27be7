package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/Zereker/keepalive"
	"github.com/Zereker/keepalive/internal/config"
	"github.com/Zereker/keepalive/internal/logging"
)

// endpointFlags override the server address from the config file.
type endpointFlags struct {
	host string
	port int
}

func (f *endpointFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.host, "host", "H", "", "Server host (default from config)")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "Server port (default from config)")
}

func (f *endpointFlags) apply(cfg *config.Config) error {
	if f.host != "" {
		cfg.ServerHost = f.host
	}
	if f.port != 0 {
		cfg.ServerPort = f.port
	}
	return cfg.Validate()
}

// loadConfig reads the config file, then lets command-line flags win.
func loadConfig(path string, flags *endpointFlags) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := flags.apply(&cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config, app string) (*logging.Logger, error) {
	return logging.New(os.Stderr, app, cfg.Log.Level, cfg.Log.Format)
}

// newRegistry returns a registry holding the usual process and Go runtime
// collectors plus whatever register adds.
func newRegistry(register func(prometheus.Registerer) error) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if err := register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

func codecFor(cfg config.Config) keepalive.Codec {
	if cfg.Framing == config.FramingVarint {
		return keepalive.VarintCodec{MaxFrameLength: cfg.MaxFrameLength}
	}
	return keepalive.LengthFieldCodec{MaxFrameLength: cfg.MaxFrameLength}
}

// signalContext is canceled on SIGINT or SIGTERM.
func signalContext(logger keepalive.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

// serveHTTP runs srv until ctx is canceled, then shuts it down.
func serveHTTP(ctx context.Context, srv *http.Server, logger keepalive.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
