package tracker

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/fyrsmithlabs/ptw/internal/config"
	"github.com/fyrsmithlabs/ptw/internal/logging"
	"github.com/fyrsmithlabs/ptw/internal/page"
	"github.com/fyrsmithlabs/ptw/internal/registry"
	"github.com/fyrsmithlabs/ptw/internal/settings"
	"github.com/fyrsmithlabs/ptw/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// fakeStore records every save.
type fakeStore struct {
	mu      sync.Mutex
	initial registry.State
	loadErr error
	saveErr error
	saves   []registry.State
}

func (s *fakeStore) Load(context.Context) (registry.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.initial.Clone(), nil
}

func (s *fakeStore) Save(_ context.Context, snapshot registry.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves = append(s.saves, snapshot.Clone())
	return s.saveErr
}

func (s *fakeStore) Saves() []registry.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]registry.State(nil), s.saves...)
}

func (s *fakeStore) setSaveErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveErr = err
}

type fixedTimeout struct {
	minutes int
	err     error
}

func (f fixedTimeout) Timeout(context.Context) (int, error) {
	return f.minutes, f.err
}

// fakeElement is an item that is not part of any document.
type fakeElement struct {
	classes []string
	label   string
	counter *fakeCounter
}

func (e *fakeElement) ClassNames() []string { return e.classes }
func (e *fakeElement) Data(string) string   { return e.label }
func (e *fakeElement) Counter() page.Counter {
	if e.counter == nil {
		return nil
	}
	return e.counter
}

type fakeCounter struct {
	html string
}

func (c *fakeCounter) Text() string        { return c.html }
func (c *fakeCounter) SetHTML(html string) { c.html = html }

func listing(ids ...string) string {
	var b strings.Builder
	b.WriteString("<html><body>")
	for _, id := range ids {
		b.WriteString(`<div class="item item-live-` + id + `" data-ign="seller-` + id + `">`)
		b.WriteString(`<ul class="proplist"><li><span class="whisper-btn">Whisper</span></li></ul></div>`)
	}
	b.WriteString("</body></html>")
	return b.String()
}

func parseDoc(t *testing.T, ids ...string) *page.HTMLDocument {
	t.Helper()
	doc, err := page.ParseHTML(strings.NewReader(listing(ids...)), page.DefaultOptions())
	require.NoError(t, err)
	return doc
}

func counterText(t *testing.T, doc *page.HTMLDocument, id string) string {
	t.Helper()
	el, ok := doc.Find(id)
	require.True(t, ok, "item %s not on page", id)
	return el.Counter().Text()
}

func newMock() *clock.Mock {
	mock := clock.NewMock()
	mock.Add(24 * time.Hour)
	return mock
}

type harness struct {
	ctrl   *Controller
	clock  *clock.Mock
	store  *fakeStore
	logs   *logging.TestLogger
	cancel context.CancelFunc
	errCh  chan error
}

func start(t *testing.T, st *fakeStore, doc page.Document, timeouts TimeoutSource, mock *clock.Mock, opts ...Option) *harness {
	t.Helper()
	tl := logging.NewTestLogger()
	opts = append([]Option{WithClock(mock), WithLogger(tl.Logger)}, opts...)
	ctrl := New(config.Default().Tracker, st, doc, timeouts, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx) }()

	select {
	case <-ctrl.Ready():
	case err := <-errCh:
		cancel()
		t.Fatalf("controller stopped before ready: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("controller never became ready")
	}

	h := &harness{ctrl: ctrl, clock: mock, store: st, logs: tl, cancel: cancel, errCh: errCh}
	t.Cleanup(func() {
		cancel()
		<-ctrl.Done()
	})
	return h
}

// fireDebounce advances the clock until the store has n saves.
func (h *harness) fireDebounce(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		if len(h.store.Saves()) >= n {
			return true
		}
		h.clock.Add(time.Second)
		return false
	}, 5*time.Second, 5*time.Millisecond)
}

func (h *harness) whispers(t *testing.T, id string) int {
	t.Helper()
	rec, ok, err := h.ctrl.Item(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok, "item %s not tracked", id)
	return rec.Whispers
}

func TestController_EndToEnd(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	doc := parseDoc(t, "X123")
	h := start(t, st, doc, fixedTimeout{}, newMock())

	timeout, err := h.ctrl.Timeout(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, timeout, "unset timeout defaults to 5")
	assert.Equal(t, StateReady, h.ctrl.State())

	// Eager save on load, then the initial counter
	require.Len(t, st.Saves(), 1)
	assert.Empty(t, st.Saves()[0])
	assert.Equal(t, 0, h.whispers(t, "X123"))
	assert.Equal(t, "Whisper\u00a0(0)", counterText(t, doc, "X123"))

	el, ok := doc.Find("X123")
	require.True(t, ok)
	require.NoError(t, h.ctrl.Click(ctx, el))
	assert.Equal(t, 1, h.whispers(t, "X123"))
	assert.Equal(t, "Whisper\u00a0(1)", counterText(t, doc, "X123"))

	h.fireDebounce(t, 2)
	saved := st.Saves()[1]
	require.Contains(t, saved, "X123")
	assert.Equal(t, 1, saved["X123"].Whispers)

	h.clock.Add(6 * time.Minute)
	require.Eventually(t, func() bool { return h.whispers(t, "X123") == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Whisper\u00a0(0)", counterText(t, doc, "X123"))

	h.fireDebounce(t, 3)
	saves := st.Saves()
	assert.Empty(t, saves[len(saves)-1], "inactive items are not persisted")
}

func TestController_DebounceCoalesces(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	doc := parseDoc(t, "X123")
	h := start(t, st, doc, fixedTimeout{minutes: 5}, newMock())

	el, _ := doc.Find("X123")
	for i := 0; i < 5; i++ {
		require.NoError(t, h.ctrl.Click(ctx, el))
	}

	h.fireDebounce(t, 2)
	time.Sleep(20 * time.Millisecond)

	saves := st.Saves()
	require.Len(t, saves, 2, "burst coalesces into one write")
	assert.Equal(t, 5, saves[1]["X123"].Whispers, "write carries the latest state")
	assert.Equal(t, "Whisper\u00a0(5)", counterText(t, doc, "X123"))
}

func TestController_LoadHydratesAndSweeps(t *testing.T) {
	mock := newMock()
	now := mock.Now()
	st := &fakeStore{initial: registry.State{
		"A": {Whispers: 2, Updated: now.Add(-10 * time.Minute).UnixMilli()},
		"B": {Whispers: 1, Updated: now.Add(-time.Minute).UnixMilli()},
	}}
	doc := parseDoc(t, "A", "B", "C")
	h := start(t, st, doc, fixedTimeout{minutes: 5}, mock)

	assert.Equal(t, 0, h.whispers(t, "A"))
	assert.Equal(t, 1, h.whispers(t, "B"))
	assert.Equal(t, 0, h.whispers(t, "C"))
	assert.Equal(t, "Whisper\u00a0(0)", counterText(t, doc, "A"))
	assert.Equal(t, "Whisper\u00a0(1)", counterText(t, doc, "B"))

	// Eager save happens before the sweep
	saves := st.Saves()
	require.Len(t, saves, 1)
	assert.Len(t, saves[0], 2)

	// The load sweep reset A, so a save is scheduled
	h.fireDebounce(t, 2)
	saves = st.Saves()
	assert.Equal(t, registry.State{"B": st.initial["B"]}, saves[1])
}

func TestController_LoadFailures(t *testing.T) {
	tests := []struct {
		name     string
		store    *fakeStore
		timeouts TimeoutSource
		wantErr  error
	}{
		{"store", &fakeStore{loadErr: store.ErrDecode}, fixedTimeout{minutes: 5}, store.ErrDecode},
		{"settings", &fakeStore{}, fixedTimeout{err: settings.ErrWatcherFailed}, settings.ErrWatcherFailed},
		{"initial save", &fakeStore{saveErr: errors.New("quota")}, fixedTimeout{minutes: 5}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tl := logging.NewTestLogger()
			ctrl := New(config.Default().Tracker, tt.store, parseDoc(t, "X1"), tt.timeouts,
				WithClock(newMock()), WithLogger(tl.Logger))

			err := ctrl.Run(context.Background())
			require.Error(t, err)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			}
			assert.Equal(t, StateFailed, ctrl.State())

			select {
			case <-ctrl.Ready():
				t.Fatal("failed controller must not become ready")
			default:
			}

			el := &fakeElement{classes: []string{"item-live-X1"}}
			assert.ErrorIs(t, ctrl.Click(context.Background(), el), ErrNotReady)
			tl.AssertLogged(t, zapcore.ErrorLevel, "tracker failed to load")
		})
	}
}

func TestController_ClickNewAndUntrackable(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	h := start(t, st, parseDoc(t), fixedTimeout{minutes: 5}, newMock())

	// No id: ignored
	require.NoError(t, h.ctrl.Click(ctx, &fakeElement{classes: []string{"item"}, counter: &fakeCounter{html: "Whisper"}}))
	snapshot, err := h.ctrl.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)

	// First click on an unseen item only starts tracking it
	counter := &fakeCounter{html: "Whisper"}
	el := &fakeElement{classes: []string{"item", "item-live-NEW1"}, label: "late", counter: counter}
	require.NoError(t, h.ctrl.Click(ctx, el))
	assert.Equal(t, 0, h.whispers(t, "NEW1"))
	assert.Equal(t, "Whisper&nbsp;(0)", counter.html)

	require.NoError(t, h.ctrl.Click(ctx, el))
	assert.Equal(t, 1, h.whispers(t, "NEW1"))
	assert.Equal(t, "Whisper&nbsp;(1)", counter.html, "existing binding keeps its base text")
}

func TestController_DuplicateElements(t *testing.T) {
	ctx := context.Background()
	doc := parseDoc(t, "X123", "X123")
	h := start(t, &fakeStore{}, doc, fixedTimeout{minutes: 5}, newMock())

	items := doc.Items()
	require.Len(t, items, 2)
	require.NoError(t, h.ctrl.Click(ctx, items[1]))

	assert.Equal(t, "Whisper\u00a0(1)", items[0].Counter().Text())
	assert.Equal(t, "Whisper\u00a0(1)", items[1].Counter().Text())
}

func TestController_TimeoutChange(t *testing.T) {
	ctx := context.Background()
	changes := make(chan settings.Change, 2)
	doc := parseDoc(t, "X123")
	h := start(t, &fakeStore{}, doc, fixedTimeout{minutes: 5}, newMock(), WithTimeoutChanges(changes))

	changes <- settings.Change{Key: settings.KeyTimeout, Old: 5, New: 0}
	changes <- settings.Change{Key: settings.KeyTimeout, Old: 5, New: 10}
	require.Eventually(t, func() bool {
		minutes, err := h.ctrl.Timeout(ctx)
		return err == nil && minutes == 10
	}, 5*time.Second, 5*time.Millisecond)
	h.logs.AssertLogged(t, zapcore.WarnLevel, "ignoring invalid timeout change")

	el, _ := doc.Find("X123")
	require.NoError(t, h.ctrl.Click(ctx, el))
	assert.Equal(t, 1, h.whispers(t, "X123"))

	// Past the old timeout but within the new one
	h.clock.Add(6 * time.Minute)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, h.whispers(t, "X123"))

	h.clock.Add(5 * time.Minute)
	require.Eventually(t, func() bool { return h.whispers(t, "X123") == 0 }, 5*time.Second, 5*time.Millisecond)

	close(changes)
	assert.Equal(t, 0, h.whispers(t, "X123"), "closed change channel does not stop the loop")
}

func TestController_Flush(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	doc := parseDoc(t, "X123")
	h := start(t, st, doc, fixedTimeout{minutes: 5}, newMock())

	require.NoError(t, h.ctrl.Flush(ctx))
	assert.Len(t, st.Saves(), 1, "nothing pending")

	el, _ := doc.Find("X123")
	require.NoError(t, h.ctrl.Click(ctx, el))
	require.NoError(t, h.ctrl.Flush(ctx))
	require.Len(t, st.Saves(), 2)

	h.clock.Add(5 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, st.Saves(), 2, "flushed save does not fire again")
}

func TestController_BackgroundSaveError(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	doc := parseDoc(t, "X123")
	h := start(t, st, doc, fixedTimeout{minutes: 5}, newMock())

	st.setSaveErr(errors.New("background unavailable"))
	el, _ := doc.Find("X123")
	require.NoError(t, h.ctrl.Click(ctx, el))
	h.fireDebounce(t, 2)

	require.Eventually(t, func() bool {
		return h.logs.FilterMessage("background save failed").Len() == 1
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateReady, h.ctrl.State(), "save failures do not stop the tracker")
}

func TestController_ClickID(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	doc := parseDoc(t, "X123", "Y9")
	h := start(t, st, doc, fixedTimeout{minutes: 5}, newMock())

	rec, found, err := h.ctrl.ClickID(ctx, "X123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 1, rec.Whispers)

	rec, found, err = h.ctrl.ClickID(ctx, "X123")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 2, rec.Whispers)

	_, found, err = h.ctrl.ClickID(ctx, "MISSING")
	require.NoError(t, err)
	assert.False(t, found)

	_, found, err = h.ctrl.ClickID(ctx, "")
	require.NoError(t, err)
	assert.False(t, found)

	snapshot, err := h.ctrl.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"X123"}, keys(snapshot))
	assert.Equal(t, "Whisper\u00a0(2)", counterText(t, doc, "X123"))
}

// Clicks by id and expiry sweeps both touch the document. Run with -race.
func TestController_ClickIDDuringSweeps(t *testing.T) {
	ctx := context.Background()
	ids := []string{"A", "B", "C", "D"}
	doc := parseDoc(t, ids...)
	h := start(t, &fakeStore{}, doc, fixedTimeout{minutes: 5}, newMock())

	for _, id := range ids {
		_, _, err := h.ctrl.ClickID(ctx, id)
		require.NoError(t, err)
	}

	stop := make(chan struct{})
	clicked := make(chan error, 1)
	go func() {
		defer close(clicked)
		for {
			select {
			case <-stop:
				return
			default:
			}
			if _, _, err := h.ctrl.ClickID(ctx, "D"); err != nil {
				clicked <- err
				return
			}
		}
	}()

	for i := 0; i < 36; i++ {
		h.clock.Add(10 * time.Second)
	}
	require.Eventually(t, func() bool { return h.whispers(t, "A") == 0 }, 5*time.Second, 5*time.Millisecond)

	close(stop)
	assert.NoError(t, <-clicked)
	assert.Equal(t, 0, h.whispers(t, "B"))
}

func TestController_ShutdownWritesPendingSave(t *testing.T) {
	ctx := context.Background()
	st := &fakeStore{}
	doc := parseDoc(t, "X123")
	h := start(t, st, doc, fixedTimeout{minutes: 5}, newMock())

	_, _, err := h.ctrl.ClickID(ctx, "X123")
	require.NoError(t, err)
	_, _, err = h.ctrl.ClickID(ctx, "X123")
	require.NoError(t, err)
	require.Len(t, st.Saves(), 1, "debounce window still open")

	h.cancel()
	assert.ErrorIs(t, <-h.errCh, context.Canceled)

	saves := st.Saves()
	require.Len(t, saves, 2)
	assert.Equal(t, 2, saves[1]["X123"].Whispers)
}

func TestController_ShutdownWithoutPendingSave(t *testing.T) {
	st := &fakeStore{}
	h := start(t, st, parseDoc(t, "X123"), fixedTimeout{minutes: 5}, newMock())

	h.cancel()
	<-h.ctrl.Done()
	assert.Len(t, st.Saves(), 1, "only the eager load save")
}

func keys(s registry.State) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestController_Lifecycle(t *testing.T) {
	ctx := context.Background()
	ctrl := New(config.Default().Tracker, &fakeStore{}, parseDoc(t), fixedTimeout{minutes: 5}, WithClock(newMock()))

	assert.Equal(t, StateUninitialized, ctrl.State())
	_, err := ctrl.Timeout(ctx)
	assert.ErrorIs(t, err, ErrNotReady)

	runCtx, cancel := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(runCtx) }()
	<-ctrl.Ready()

	assert.ErrorIs(t, ctrl.Run(runCtx), ErrAlreadyRunning)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)
	<-ctrl.Done()

	_, _, err = ctrl.Item(ctx, "x")
	assert.ErrorIs(t, err, ErrStopped)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "uninitialized", StateUninitialized.String())
	assert.Equal(t, "loading", StateLoading.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "failed", StateFailed.String())
	assert.Equal(t, "unknown", State(42).String())
}
