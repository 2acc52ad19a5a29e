//go:build js && wasm

// ptw-content is the content script: it tracks whispers on the open page
// and keeps them in the background page's cookie store.
package main

import (
	"context"
	"os"
	"syscall/js"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ptw/internal/config"
	"github.com/fyrsmithlabs/ptw/internal/cookies"
	"github.com/fyrsmithlabs/ptw/internal/extension"
	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/fyrsmithlabs/ptw/internal/page"
	"github.com/fyrsmithlabs/ptw/internal/store"
	"github.com/fyrsmithlabs/ptw/internal/tracker"
)

func main() {
	cfg := config.Default()
	cfg.Logging.Format = "console"
	cfg.Tracker.Origin = js.Global().Get("location").Get("origin").String()

	logCfg, err := logging.FromAppConfig(cfg.Logging)
	if err != nil {
		panic(err)
	}
	logger, err := logging.NewLoggerTo(logCfg, os.Stderr)
	if err != nil {
		panic(err)
	}
	ctx := logging.WithOrigin(logging.WithLogger(context.Background(), logger), cfg.Tracker.Origin)

	doc := page.NewDOMDocument(tracker.PageOptions(cfg.Tracker))
	st := store.New(cookies.NewRemote(extension.NewRuntimeClient()), cfg.Tracker.Origin,
		store.WithCookieName(cfg.Tracker.CookieName),
		store.WithWriteLimit(cfg.Tracker.WritesPerMinute, 10),
	)
	synced := extension.NewSyncSettings(cfg.Settings.DefaultTimeout, logger)

	opts := []tracker.Option{tracker.WithLogger(logger), tracker.WithSaveTimeout(cfg.Bridge.Timeout)}
	if changes, err := synced.Watch(ctx); err != nil {
		logger.Warn(ctx, "settings changes will not be picked up", zap.Error(err))
	} else {
		opts = append(opts, tracker.WithTimeoutChanges(changes))
	}

	ctrl := tracker.New(cfg.Tracker, st, doc, synced, opts...)
	go func() {
		if err := ctrl.Run(ctx); err != nil {
			logger.Error(ctx, "tracker stopped", zap.Error(err))
		}
	}()

	select {
	case <-ctrl.Ready():
	case <-ctrl.Done():
		return
	}

	doc.OnItemClick(func(el page.Element) {
		if err := ctrl.Click(ctx, el); err != nil {
			logger.Warn(ctx, "click not recorded", zap.Error(err))
		}
	})
	<-ctrl.Done()
}
