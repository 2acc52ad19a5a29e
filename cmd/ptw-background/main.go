//go:build js && wasm

// ptw-background is the background page: it answers cookie requests from
// content scripts and installs the default settings.
package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ptw/internal/bridge"
	"github.com/fyrsmithlabs/ptw/internal/config"
	"github.com/fyrsmithlabs/ptw/internal/cookies"
	"github.com/fyrsmithlabs/ptw/internal/extension"
	"github.com/fyrsmithlabs/ptw/internal/logging"
)

func main() {
	cfg := config.Default()
	cfg.Logging.Format = "console"

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		panic(err)
	}
	logger, err := logging.NewLoggerTo(logCfg, os.Stderr)
	if err != nil {
		panic(err)
	}
	ctx := logging.WithLogger(context.Background(), logger)

	mux := bridge.NewMux()
	if err := cookies.NewService(extension.NewCookieJar(), logger).Register(mux); err != nil {
		logger.Error(ctx, "failed to register cookie service", zap.Error(err))
		return
	}
	if _, err := extension.ListenRuntime(ctx, mux, logger); err != nil {
		logger.Error(ctx, "failed to listen for runtime messages", zap.Error(err))
		return
	}

	synced := extension.NewSyncSettings(cfg.Settings.DefaultTimeout, logger)
	if _, err := extension.OnInstalled(func() {
		if err := synced.Install(ctx); err != nil {
			logger.Error(ctx, "failed to install default settings", zap.Error(err))
		}
	}); err != nil {
		logger.Warn(ctx, "default settings will not be installed", zap.Error(err))
	}

	logger.Info(ctx, "background page ready")
	select {}
}
