package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/fyrsmithlabs/ptw/internal/bridge"
	"github.com/fyrsmithlabs/ptw/internal/config"
	"github.com/fyrsmithlabs/ptw/internal/cookies"
	ptwhttp "github.com/fyrsmithlabs/ptw/internal/http"
	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/fyrsmithlabs/ptw/internal/settings"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveEmbedded bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the background process",
	Long: `Run the privileged background process.

It answers cookie/get and cookie/set requests on the bridge, owns the
settings file, and serves /health, /metrics and /api/v1/settings over HTTP.

Examples:
  # Run with an embedded NATS server
  ptw serve --embedded

  # Connect to an existing NATS server
  PTW_BRIDGE_URL=nats://10.0.0.5:4222 ptw serve`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("embedded") {
			cfg.Bridge.Embedded = serveEmbedded
		}
		return runServe(cmd.Context(), cfg)
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveEmbedded, "embedded", false, "start an embedded NATS server (overrides bridge.embedded)")
}

// runServe wires the background process and blocks until ctx is cancelled.
//
//  1. Opens the cookie jar and settings store
//  2. Starts or connects to NATS
//  3. Registers the cookie service on the bridge
//  4. Starts the HTTP server
//  5. Shuts everything down when ctx is cancelled
func runServe(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if err := config.EnsureDir(); err != nil {
		return err
	}

	jar, err := cookies.Open(cfg.Cookies.Path, nil)
	if err != nil {
		return err
	}
	defer jar.Close()

	settingsStore := settings.New(cfg.Settings.Path, cfg.Settings.DefaultTimeout, logger)

	url := cfg.Bridge.URL
	if cfg.Bridge.Embedded {
		ns, err := bridge.StartEmbedded(cfg.Bridge.Host, cfg.Bridge.Port)
		if err != nil {
			return err
		}
		defer func() {
			ns.Shutdown()
			ns.WaitForShutdown()
		}()
		url = ns.ClientURL()
		logger.Info(ctx, "embedded nats started", zap.String("url", url))
	}

	nc, err := nats.Connect(url, nats.Name("ptw-background"))
	if err != nil {
		return fmt.Errorf("failed to connect to nats at %s: %w", url, err)
	}
	defer nc.Close()

	mux := bridge.NewMux()
	if err := cookies.NewService(jar, logger).Register(mux); err != nil {
		return err
	}
	bridgeServer, err := bridge.Serve(nc, cfg.Bridge.Subject, mux, logger, cfg.Bridge.Timeout)
	if err != nil {
		return err
	}
	defer bridgeServer.Close()

	srv, err := ptwhttp.NewServer(settingsStore, logger.Underlying(), &ptwhttp.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	})
	if err != nil {
		return err
	}
	srv.RegisterService("bridge", func() string {
		if nc.IsConnected() {
			return "ok"
		}
		return "disconnected"
	})

	logger.Info(ctx, "ptw background ready",
		zap.String("bridge_subject", cfg.Bridge.Subject),
		zap.Strings("bridge_types", mux.Types()),
		zap.String("cookies", cfg.Cookies.Path),
		zap.String("settings", cfg.Settings.Path),
		zap.Int("http_port", cfg.Server.Port))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "http shutdown failed", zap.Error(err))
	}
	logger.Info(ctx, "ptw background stopped")
	return nil
}

// newBridgeClient connects a page session to the background process, or
// serves the cookie jar in-process when local is set.
func newBridgeClient(cfg *config.Config, logger *logging.Logger, local bool) (bridge.Client, func(), error) {
	if local {
		jar, err := cookies.Open(cfg.Cookies.Path, nil)
		if err != nil {
			return nil, nil, err
		}
		mux := bridge.NewMux()
		if err := cookies.NewService(jar, logger).Register(mux); err != nil {
			jar.Close()
			return nil, nil, err
		}
		return bridge.NewLocal(mux), func() { jar.Close() }, nil
	}

	nc, err := nats.Connect(cfg.Bridge.URL, nats.Name("ptw-page"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to nats at %s (is ptw serve running?): %w", cfg.Bridge.URL, err)
	}
	return bridge.NewNATSClient(nc, cfg.Bridge.Subject, cfg.Bridge.Timeout), nc.Close, nil
}
