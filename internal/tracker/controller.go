// Package tracker runs the whisper tracker for one page session.
//
// A Controller hydrates the item registry from the persistent store, binds
// the items found on the page, and then serves clicks, periodic expiry
// sweeps and timeout changes from a single event loop. Saves are debounced
// and run off the loop with a snapshot copied when the debounce fires.
//
// Basic usage:
//
//	ctrl := tracker.New(cfg.Tracker, st, doc, settingsStore,
//	    tracker.WithLogger(logger),
//	    tracker.WithTimeoutChanges(changes),
//	)
//	go ctrl.Run(ctx)
//	<-ctrl.Ready()
//	ctrl.Click(ctx, element)
package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/facebookgo/clock"
	"github.com/fyrsmithlabs/ptw/internal/config"
	"github.com/fyrsmithlabs/ptw/internal/debounce"
	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/fyrsmithlabs/ptw/internal/metrics"
	"github.com/fyrsmithlabs/ptw/internal/page"
	"github.com/fyrsmithlabs/ptw/internal/registry"
	"github.com/fyrsmithlabs/ptw/internal/settings"
	"github.com/fyrsmithlabs/ptw/internal/store"
	"go.uber.org/zap"
)

// Errors for controller operations.
var (
	ErrNotReady       = errors.New("tracker not ready")
	ErrStopped        = errors.New("tracker stopped")
	ErrAlreadyRunning = errors.New("tracker already running")
)

// defaultSaveTimeout bounds one background save.
const defaultSaveTimeout = 10 * time.Second

// TimeoutSource provides the configured expiry timeout in minutes.
type TimeoutSource interface {
	Timeout(ctx context.Context) (int, error)
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the clock for sweeps, debouncing and timestamps.
func WithClock(c clock.Clock) Option {
	return func(ctrl *Controller) {
		ctrl.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(ctrl *Controller) {
		ctrl.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(ctrl *Controller) {
		ctrl.metrics = m
	}
}

// WithTimeoutChanges delivers timeout updates to the event loop.
func WithTimeoutChanges(ch <-chan settings.Change) Option {
	return func(ctrl *Controller) {
		ctrl.changes = ch
	}
}

// WithSaveTimeout bounds each background save.
func WithSaveTimeout(d time.Duration) Option {
	return func(ctrl *Controller) {
		ctrl.saveTimeout = d
	}
}

// Controller owns the registry and page bindings for one page session.
type Controller struct {
	cfg      config.TrackerConfig
	opts     page.Options
	store    store.Persister
	doc      page.Document
	settings TimeoutSource

	clock       clock.Clock
	logger      *logging.Logger
	metrics     *metrics.Metrics
	changes     <-chan settings.Change
	saveTimeout time.Duration

	// Owned by the event loop once Run starts.
	registry *registry.Registry
	bindings map[string][]*page.Binding
	timeout  int

	state   atomic.Int32
	running atomic.Bool
	saver   *debounce.Debouncer
	events  chan func()
	saveReq chan struct{}
	ready   chan struct{}
	done    chan struct{}
	saves   sync.WaitGroup
}

// PageOptions returns the page selectors named by cfg.
func PageOptions(cfg config.TrackerConfig) page.Options {
	return page.Options{
		ItemSelector:    cfg.ItemSelector,
		CounterSelector: cfg.CounterSelector,
		IDMarker:        cfg.IDMarker,
		LabelAttr:       cfg.LabelAttr,
	}
}

// New creates a controller. Nothing happens until Run.
func New(cfg config.TrackerConfig, st store.Persister, doc page.Document, timeouts TimeoutSource, opts ...Option) *Controller {
	c := &Controller{
		cfg:         cfg,
		opts:        PageOptions(cfg),
		store:       st,
		doc:         doc,
		settings:    timeouts,
		clock:       clock.New(),
		logger:      logging.NewNop(),
		saveTimeout: defaultSaveTimeout,
		bindings:    make(map[string][]*page.Binding),
		timeout:     settings.DefaultTimeout,
		events:      make(chan func()),
		saveReq:     make(chan struct{}, 1),
		ready:       make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = metrics.New()
	}
	c.logger = c.logger.Component("tracker")
	c.saver = debounce.New(c.clock, cfg.SaveDebounce, c.requestSave)
	return c
}

// State returns the lifecycle state.
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Ready is closed once the controller reaches StateReady.
func (c *Controller) Ready() <-chan struct{} {
	return c.ready
}

// Done is closed when Run returns.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Timeout returns the expiry timeout in minutes used by sweeps.
func (c *Controller) Timeout(ctx context.Context) (int, error) {
	var minutes int
	err := c.do(ctx, func() { minutes = c.timeout })
	return minutes, err
}

// Run loads state, binds the page and serves events until ctx is done.
// A load failure leaves the controller in StateFailed and is returned.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(c.done)

	ctx = logging.WithOrigin(ctx, c.cfg.Origin)

	c.state.Store(int32(StateLoading))
	if err := c.load(ctx); err != nil {
		c.state.Store(int32(StateFailed))
		c.logger.Error(ctx, "tracker failed to load", zap.Error(err))
		return err
	}

	ticker := c.clock.Ticker(c.cfg.SweepInterval)
	defer ticker.Stop()
	defer c.saves.Wait()
	defer c.saver.Stop()

	c.state.Store(int32(StateReady))
	close(c.ready)
	c.logger.Info(ctx, "tracker ready",
		zap.Int("items", c.registry.Len()),
		zap.Int("timeout_minutes", c.timeout))

	changes := c.changes
	for {
		select {
		case <-ctx.Done():
			c.logger.Debug(ctx, "tracker stopping")
			c.finalSave(ctx)
			return ctx.Err()
		case <-ticker.C:
			c.safely(ctx, "sweep", func() { c.sweep(ctx) })
		case change, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			c.applyChange(ctx, change)
		case <-c.saveReq:
			c.startSave(ctx)
		case fn := <-c.events:
			c.safely(ctx, "event", fn)
		}
	}
}

// load hydrates the registry, saves once, sweeps and binds the page.
func (c *Controller) load(ctx context.Context) error {
	snapshot, err := c.store.Load(ctx)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	minutes, err := c.settings.Timeout(ctx)
	if err != nil {
		return fmt.Errorf("read timeout: %w", err)
	}
	if minutes < 1 {
		minutes = settings.DefaultTimeout
	}
	c.timeout = minutes

	c.registry = registry.New(snapshot,
		registry.WithClock(c.clock),
		registry.WithRefreshOnActivate(c.cfg.RefreshOnActivate),
	)

	if err := c.saveNow(ctx, c.registry.UniqueItems()); err != nil {
		return fmt.Errorf("initial save: %w", err)
	}

	if expired := c.registry.ResetExpiredItems(c.timeout); len(expired) > 0 {
		c.metrics.ExpiredTotal.Add(float64(len(expired)))
		c.logger.Info(ctx, "expired items on load", zap.Strings("ids", expired))
		c.saver.Trigger()
	}

	for _, el := range c.doc.Items() {
		b := page.Bind(el, c.opts)
		if !b.Trackable() {
			c.logger.Debug(ctx, "skipping item without id", zap.String("label", b.Label()))
			continue
		}
		c.registry.AddItem(b.ID(), 0)
		c.bindings[b.ID()] = append(c.bindings[b.ID()], b)

		rec, _ := c.registry.Item(b.ID())
		b.Update(rec.Whispers)
	}

	c.observe()
	return nil
}

// Click records a click on an item element.
//
// A tracked item gets one more whisper. An untracked item is added with
// zero whispers. Either way its counters are refreshed and a save is
// scheduled. Elements without an id are ignored.
func (c *Controller) Click(ctx context.Context, el page.Element) error {
	return c.do(ctx, func() { c.click(ctx, el) })
}

// ClickID records a click on the item with id, looking the element up on the
// event loop. It reports false when no item on the page has that id. Callers
// that do not own the document use this instead of resolving elements
// themselves.
func (c *Controller) ClickID(ctx context.Context, id string) (registry.Record, bool, error) {
	var (
		rec   registry.Record
		found bool
	)
	err := c.do(ctx, func() {
		el, ok := c.element(id)
		if !ok {
			return
		}
		found = true
		c.click(ctx, el)
		rec, _ = c.registry.Item(id)
	})
	return rec, found, err
}

// element returns a bound element for id, falling back to a page scan for
// items that were added after load.
func (c *Controller) element(id string) (page.Element, bool) {
	if bs := c.bindings[id]; len(bs) > 0 {
		return bs[0].Element(), true
	}
	return page.FindItem(c.doc, id, c.opts)
}

func (c *Controller) click(ctx context.Context, el page.Element) {
	b := page.Bind(el, c.opts)
	if !b.Trackable() {
		c.logger.Debug(ctx, "ignoring click on item without id", zap.String("label", b.Label()))
		return
	}
	id := b.ID()
	ctx = logging.WithItemID(ctx, id)

	var rec registry.Record
	if c.registry.HasItem(id) {
		rec, _ = c.registry.AddWhisper(id)
		c.metrics.WhispersTotal.Inc()
		c.logger.Debug(ctx, "whisper recorded", zap.Int("whispers", rec.Whispers), zap.String("label", b.Label()))
	} else {
		rec, _ = c.registry.AddItem(id, 0)
		c.logger.Debug(ctx, "item tracked", zap.String("label", b.Label()))
	}

	if len(c.bindings[id]) == 0 {
		c.bindings[id] = []*page.Binding{b}
	}
	c.render(id, rec.Whispers)
	c.observe()
	c.saver.Trigger()
}

func (c *Controller) sweep(ctx context.Context) {
	c.metrics.SweepsTotal.Inc()

	expired := c.registry.ResetExpiredItems(c.timeout)
	if len(expired) == 0 {
		return
	}

	c.metrics.ExpiredTotal.Add(float64(len(expired)))
	for _, id := range expired {
		c.render(id, 0)
	}
	c.logger.Info(ctx, "expired items reset",
		zap.Strings("ids", expired), zap.Int("timeout_minutes", c.timeout))
	c.observe()
	c.saver.Trigger()
}

func (c *Controller) applyChange(ctx context.Context, change settings.Change) {
	if change.Key != settings.KeyTimeout {
		return
	}
	if change.New < 1 {
		c.logger.Warn(ctx, "ignoring invalid timeout change", zap.Int("value", change.New))
		return
	}
	c.logger.Info(ctx, "timeout changed", zap.Int("old", c.timeout), zap.Int("new", change.New))
	c.timeout = change.New
}

func (c *Controller) render(id string, count int) {
	for _, b := range c.bindings[id] {
		b.Update(count)
	}
}

func (c *Controller) observe() {
	c.metrics.TrackedItems.Set(float64(c.registry.Len()))
	c.metrics.ActiveItems.Set(float64(len(c.registry.UniqueItems())))
}

// Item returns the record for id.
func (c *Controller) Item(ctx context.Context, id string) (registry.Record, bool, error) {
	var (
		rec registry.Record
		ok  bool
	)
	err := c.do(ctx, func() { rec, ok = c.registry.Item(id) })
	return rec, ok, err
}

// Snapshot returns a copy of the active records.
func (c *Controller) Snapshot(ctx context.Context) (registry.State, error) {
	var snapshot registry.State
	err := c.do(ctx, func() { snapshot = c.registry.UniqueItems() })
	return snapshot, err
}

// do runs fn on the event loop and waits for it.
func (c *Controller) do(ctx context.Context, fn func()) error {
	if c.State() != StateReady {
		return ErrNotReady
	}

	finished := make(chan struct{})
	wrapped := func() {
		defer close(finished)
		fn()
	}

	select {
	case c.events <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// safely runs fn, recovering panics so one bad event cannot stop the loop.
func (c *Controller) safely(ctx context.Context, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error(ctx, "tracker panic recovered",
				zap.String("in", what), zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn()
}
