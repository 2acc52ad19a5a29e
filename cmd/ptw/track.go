package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fyrsmithlabs/ptw/internal/config"
	"github.com/fyrsmithlabs/ptw/internal/cookies"
	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/fyrsmithlabs/ptw/internal/page"
	"github.com/fyrsmithlabs/ptw/internal/settings"
	"github.com/fyrsmithlabs/ptw/internal/store"
	"github.com/fyrsmithlabs/ptw/internal/tracker"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sessionOptions describes one page session.
type sessionOptions struct {
	page  string
	out   string
	local bool
	echo  bool
	in    io.Reader
}

var (
	trackOpts    sessionOptions
	annotateOpts sessionOptions
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Run a page session and record whisper clicks from stdin",
	Long: `Load a saved listing page, bind its items and read item ids from stdin,
one per line. Each id is treated as a click on that item.

Examples:
  # Click X123 twice, then write the annotated page
  printf 'X123\nX123\n' | ptw track --page search.html --out annotated.html

  # Use the cookie jar directly instead of a running ptw serve
  ptw track --page search.html --local`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		opts := trackOpts
		opts.in = cmd.InOrStdin()
		return runSession(cmd.Context(), cfg, opts, cmd.OutOrStdout())
	},
}

var annotateCmd = &cobra.Command{
	Use:   "annotate",
	Short: "Write a listing page with whisper counters applied",
	Long: `Load a saved listing page, apply the stored whisper counts and expiry
sweep, and print the annotated HTML.

Examples:
  ptw annotate --page search.html > annotated.html`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runSession(cmd.Context(), cfg, annotateOpts, cmd.OutOrStdout())
	},
}

func init() {
	trackCmd.Flags().StringVar(&trackOpts.page, "page", "", "saved listing page (HTML)")
	trackCmd.Flags().StringVar(&trackOpts.out, "out", "", "write the annotated page here ('-' for stdout)")
	trackCmd.Flags().BoolVar(&trackOpts.local, "local", false, "open the cookie jar in-process instead of using the bridge")
	trackCmd.Flags().BoolVar(&trackOpts.echo, "echo", true, "print each item's count after a click")
	_ = trackCmd.MarkFlagRequired("page")

	annotateCmd.Flags().StringVar(&annotateOpts.page, "page", "", "saved listing page (HTML)")
	annotateCmd.Flags().StringVar(&annotateOpts.out, "out", "-", "write the annotated page here ('-' for stdout)")
	annotateCmd.Flags().BoolVar(&annotateOpts.local, "local", false, "open the cookie jar in-process instead of using the bridge")
	_ = annotateCmd.MarkFlagRequired("page")
}

// runSession runs one page session. Clicks are read from opts.in when it is
// not nil.
func runSession(ctx context.Context, cfg *config.Config, opts sessionOptions, out io.Writer) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx = logging.WithOrigin(logging.WithLogger(ctx, logger), cfg.Tracker.Origin)

	f, err := os.Open(opts.page)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	doc, err := page.ParseHTML(f, tracker.PageOptions(cfg.Tracker))
	f.Close()
	if err != nil {
		return err
	}

	client, closeClient, err := newBridgeClient(cfg, logger, opts.local)
	if err != nil {
		return err
	}
	defer closeClient()

	st := store.New(cookies.NewRemote(client), cfg.Tracker.Origin,
		store.WithCookieName(cfg.Tracker.CookieName),
		store.WithWriteLimit(cfg.Tracker.WritesPerMinute, 10),
	)
	settingsStore := settings.New(cfg.Settings.Path, cfg.Settings.DefaultTimeout, logger)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var trackerOpts []tracker.Option
	trackerOpts = append(trackerOpts, tracker.WithLogger(logger), tracker.WithSaveTimeout(cfg.Bridge.Timeout))
	if changes, err := settingsStore.Watch(runCtx); err != nil {
		logger.Warn(ctx, "settings changes will not be picked up", zap.Error(err))
	} else {
		trackerOpts = append(trackerOpts, tracker.WithTimeoutChanges(changes))
	}

	ctrl := tracker.New(cfg.Tracker, st, doc, settingsStore, trackerOpts...)
	runErr := make(chan error, 1)
	go func() {
		runErr <- ctrl.Run(runCtx)
	}()

	select {
	case <-ctrl.Ready():
	case err := <-runErr:
		return fmt.Errorf("tracker failed: %w", err)
	case <-ctx.Done():
		return ctx.Err()
	}

	if opts.in != nil {
		if err := readClicks(runCtx, ctrl, opts, out); err != nil {
			return err
		}
	}

	if err := ctrl.Flush(ctx); err != nil {
		return fmt.Errorf("failed to save: %w", err)
	}
	cancel()
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	// Run has returned, so the document is ours again.
	return writePage(doc, opts.out, out)
}

// readClicks treats every non-empty line of opts.in as a click on that item.
// Lookups happen on the controller's loop, which owns the document.
func readClicks(ctx context.Context, ctrl *tracker.Controller, opts sessionOptions, out io.Writer) error {
	scanner := bufio.NewScanner(opts.in)
	for scanner.Scan() {
		id := strings.TrimSpace(scanner.Text())
		if id == "" || strings.HasPrefix(id, "#") {
			continue
		}
		rec, found, err := ctrl.ClickID(ctx, id)
		if err != nil {
			return fmt.Errorf("click %s: %w", id, err)
		}
		if !found {
			fmt.Fprintf(out, "%s: not on page\n", id)
			continue
		}
		if opts.echo {
			fmt.Fprintf(out, "%s: %d\n", id, rec.Whispers)
		}
	}
	return scanner.Err()
}

func writePage(doc *page.HTMLDocument, outPath string, stdout io.Writer) error {
	if outPath == "" {
		return nil
	}
	html, err := doc.HTML()
	if err != nil {
		return fmt.Errorf("failed to render page: %w", err)
	}
	if outPath == "-" {
		_, err = io.WriteString(stdout, html)
		return err
	}
	if err := os.WriteFile(outPath, []byte(html), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", outPath, err)
	}
	return nil
}
