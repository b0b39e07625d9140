package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/engine"
)

var errInjected = errors.New("injected engine failure")

type fakeTransfer struct {
	source      string
	dest        string
	blob        []byte
	paused      bool
	status      engine.Status
	files       []domain.FileEntry
	rechecks    int
	resumeReqs  int
	deleteFiles bool
}

type fakeEngine struct {
	mu        sync.Mutex
	next      engine.Handle
	transfers map[engine.Handle]*fakeTransfer
	removed   map[engine.Handle]*fakeTransfer
	events    []engine.Event

	failPause  map[engine.Handle]bool
	failResume map[engine.Handle]bool
	failRemove map[engine.Handle]bool
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		transfers:  make(map[engine.Handle]*fakeTransfer),
		removed:    make(map[engine.Handle]*fakeTransfer),
		failPause:  make(map[engine.Handle]bool),
		failResume: make(map[engine.Handle]bool),
		failRemove: make(map[engine.Handle]bool),
	}
}

func (f *fakeEngine) Add(source, destination string, resumeBlob []byte) (engine.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if source == "" || source == "bad" {
		return 0, fmt.Errorf("source %q: %w", source, domain.ErrEngineRejected)
	}
	f.next++
	f.transfers[f.next] = &fakeTransfer{
		source: source,
		dest:   destination,
		blob:   resumeBlob,
		paused: true,
		status: engine.Status{},
	}
	return f.next, nil
}

func (f *fakeEngine) get(h engine.Handle) (*fakeTransfer, error) {
	tr, ok := f.transfers[h]
	if !ok {
		return nil, domain.ErrHandleInvalid
	}
	return tr, nil
}

func (f *fakeEngine) Pause(h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil {
		return err
	}
	if f.failPause[h] {
		return errInjected
	}
	tr.paused = true
	return nil
}

func (f *fakeEngine) Resume(h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil {
		return err
	}
	if f.failResume[h] {
		return errInjected
	}
	tr.paused = false
	return nil
}

func (f *fakeEngine) Remove(h engine.Handle, deleteFiles bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil {
		return err
	}
	if f.failRemove[h] {
		return errInjected
	}
	tr.deleteFiles = deleteFiles
	delete(f.transfers, h)
	f.removed[h] = tr
	return nil
}

func (f *fakeEngine) SetFilePriority(h engine.Handle, idx int, prio domain.Priority) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil || idx < 0 || idx >= len(tr.files) {
		return false
	}
	// the engine has no "low", mirror the anacrolix mapping
	if prio == domain.PriorityLow {
		prio = domain.PriorityNormal
	}
	tr.files[idx].Priority = prio
	return true
}

func (f *fakeEngine) PollStatus(h engine.Handle) (engine.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil {
		return engine.Status{}, err
	}
	return tr.status, nil
}

func (f *fakeEngine) Files(h engine.Handle) ([]domain.FileEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil {
		return nil, err
	}
	if !tr.status.HasMetadata {
		return nil, domain.ErrResumeDataUnavailable
	}
	out := make([]domain.FileEntry, len(tr.files))
	copy(out, tr.files)
	return out, nil
}

func (f *fakeEngine) DrainEvents() []engine.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.events
	f.events = nil
	return out
}

func (f *fakeEngine) RequestResumeData(h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil {
		return err
	}
	if !tr.status.HasMetadata {
		return domain.ErrResumeDataUnavailable
	}
	tr.resumeReqs++
	f.events = append(f.events, engine.Event{
		Kind:   engine.EventResumeDataReady,
		Handle: h,
		Blob:   []byte(fmt.Sprintf("resume:%s:%d", tr.source, tr.resumeReqs)),
	})
	return nil
}

func (f *fakeEngine) ForceRecheck(h engine.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr, err := f.get(h)
	if err != nil {
		return err
	}
	tr.rechecks++
	return nil
}

func (f *fakeEngine) Wait(ctx context.Context, timeout time.Duration) bool {
	f.mu.Lock()
	pending := len(f.events) > 0
	f.mu.Unlock()
	if pending {
		return true
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	return false
}

func (f *fakeEngine) Close() error { return nil }

func (f *fakeEngine) push(ev engine.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

// setMetadata marks a transfer's metadata as known and queues MetadataReceived.
func (f *fakeEngine) setMetadata(h engine.Handle, files ...domain.FileEntry) {
	f.mu.Lock()
	tr := f.transfers[h]
	tr.status.HasMetadata = true
	tr.files = files
	var total int64
	for _, file := range files {
		total += file.Size
	}
	tr.status.TotalWanted = total
	f.mu.Unlock()
	f.push(engine.Event{Kind: engine.EventMetadataReceived, Handle: h})
}

func (f *fakeEngine) setProgress(h engine.Handle, progress float64, rate int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tr := f.transfers[h]
	tr.status.Progress = progress
	tr.status.DownloadRate = rate
	tr.status.TotalDone = int64(float64(tr.status.TotalWanted) * progress / 100)
}

func (f *fakeEngine) transfer(h engine.Handle) *fakeTransfer {
	f.mu.Lock()
	defer f.mu.Unlock()
	if tr, ok := f.transfers[h]; ok {
		return tr
	}
	return f.removed[h]
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeResume struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	saves    int
	deletes  int
	failSave bool
}

func newFakeResume() *fakeResume {
	return &fakeResume{blobs: make(map[string][]byte)}
}

func (r *fakeResume) Load(_ context.Context, name string) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[name]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), blob...), nil
}

func (r *fakeResume) Save(_ context.Context, name string, blob []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failSave {
		return errInjected
	}
	r.blobs[name] = append([]byte(nil), blob...)
	r.saves++
	return nil
}

func (r *fakeResume) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.blobs, name)
	r.deletes++
	return nil
}

func (r *fakeResume) get(name string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	blob, ok := r.blobs[name]
	return blob, ok
}

type transitionRecord struct {
	name    string
	from    domain.ItemState
	to      domain.ItemState
	trigger Trigger
}

type harness struct {
	t           *testing.T
	m           *Manager
	eng         *fakeEngine
	store       *fakeResume
	clock       *fakeClock
	notes       []domain.Notification
	transitions []transitionRecord
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		t:     t,
		eng:   newFakeEngine(),
		store: newFakeResume(),
		clock: newFakeClock(),
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 2
	}
	cfg.Clock = h.clock
	cfg.Logger = quietLogger()
	cfg.NotifyBuffer = 1 << 14
	cfg.QueueSize = 256
	h.m = NewManager(cfg, h.eng, h.store)
	h.m.onTransition = func(name string, from, to domain.ItemState, trigger Trigger) {
		h.transitions = append(h.transitions, transitionRecord{name, from, to, trigger})
	}
	return h
}

func (h *harness) submit(cmd domain.Command) {
	h.t.Helper()
	require.NoError(h.t, h.m.Submit(cmd))
}

func (h *harness) add(names ...string) {
	h.t.Helper()
	for _, name := range names {
		h.submit(domain.AddCommand{Name: name, Source: "magnet:" + name, DestinationPath: "/data/" + name})
	}
}

// step runs one loop iteration and collects the notifications it produced.
func (h *harness) step() {
	h.m.tick(context.Background())
	for {
		select {
		case n := <-h.m.notifications:
			h.notes = append(h.notes, n)
		default:
			return
		}
	}
}

// statusPass advances the clock past the status cadence and runs a tick.
func (h *harness) statusPass() {
	h.clock.Advance(h.m.cfg.StatusInterval)
	h.step()
}

func (h *harness) item(name string) *item {
	h.t.Helper()
	it, ok := h.m.items[name]
	require.True(h.t, ok, "item %s not in table", name)
	return it
}

func (h *harness) state(name string) domain.ItemState {
	h.t.Helper()
	return h.item(name).State
}

func (h *harness) handle(name string) engine.Handle {
	h.t.Helper()
	return h.item(name).handle
}

func (h *harness) countIn(state domain.ItemState) int {
	n := 0
	for _, it := range h.m.items {
		if it.State == state {
			n++
		}
	}
	return n
}

func (h *harness) notesOf(kind domain.NotificationKind) []domain.Notification {
	var out []domain.Notification
	for _, n := range h.notes {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}

func (h *harness) sawTransition(name string, from domain.ItemState, trigger Trigger, to domain.ItemState) bool {
	for _, tr := range h.transitions {
		if tr.name == name && tr.from == from && tr.to == to && tr.trigger == trigger {
			return true
		}
	}
	return false
}
