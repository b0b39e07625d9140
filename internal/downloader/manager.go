// Package downloader runs the download scheduler: a single event loop that
// owns every item, applies queued commands, consumes engine events and keeps
// the number of active downloads under a ceiling.
package downloader

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/engine"
	"magnet-queue/internal/repository"
)

// CompletionPolicy decides what happens to an item once verification passes.
type CompletionPolicy string

const (
	// CompletionRemove detaches the transfer and drops the item from the table.
	CompletionRemove CompletionPolicy = "remove"
	// CompletionRetain stops the transfer and keeps the item read-only.
	CompletionRetain CompletionPolicy = "retain"
	// CompletionSeed keeps the transfer running as Seeding until the user pauses it.
	CompletionSeed CompletionPolicy = "seed"
)

const DefaultVerifyThreshold = 99.8

type Config struct {
	MaxConcurrent   int
	VerifyThreshold float64
	Completion      CompletionPolicy
	TickInterval    time.Duration
	StatusInterval  time.Duration
	ResumeInterval  time.Duration
	ShutdownGrace   time.Duration
	QueueSize       int
	NotifyBuffer    int
	Clock           Clock
	Logger          *logrus.Logger
}

// Manager is the scheduler event loop. All item state lives on the goroutine
// running Run; other goroutines talk to it through Submit and Notifications.
type Manager struct {
	cfg    Config
	engine engine.Adapter
	resume repository.ResumeRepository
	clock  Clock
	log    *logrus.Logger

	commands      chan domain.Command
	notifications chan domain.Notification
	done          chan struct{}
	running       atomic.Bool

	mu      sync.RWMutex
	stopped bool

	items      map[string]*item
	byHandle   map[engine.Handle]string
	lastStatus time.Time
	lastResume time.Time

	onTransition func(name string, from, to domain.ItemState, trigger Trigger)
}

type item struct {
	domain.DownloadItem
	handle engine.Handle
	log    *logrus.Entry
	// pendingVerify holds a verification result whose engine side effect
	// failed; it is re-applied on the next status pass.
	pendingVerify *float64
}

type listQuery struct {
	reply chan []domain.DownloadItem
}

func (listQuery) ItemName() string { return "" }

func NewManager(cfg Config, adapter engine.Adapter, resume repository.ResumeRepository) *Manager {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 2
	}
	if cfg.VerifyThreshold <= 0 {
		cfg.VerifyThreshold = DefaultVerifyThreshold
	}
	if cfg.Completion == "" {
		cfg.Completion = CompletionRemove
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 100 * time.Millisecond
	}
	if cfg.StatusInterval <= 0 {
		cfg.StatusInterval = time.Second
	}
	if cfg.ResumeInterval <= 0 {
		cfg.ResumeInterval = time.Minute
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = 5 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 128
	}
	if cfg.NotifyBuffer <= 0 {
		cfg.NotifyBuffer = 256
	}
	if cfg.Clock == nil {
		cfg.Clock = systemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	now := cfg.Clock.Now()
	return &Manager{
		cfg:           cfg,
		engine:        adapter,
		resume:        resume,
		clock:         cfg.Clock,
		log:           cfg.Logger,
		commands:      make(chan domain.Command, cfg.QueueSize),
		notifications: make(chan domain.Notification, cfg.NotifyBuffer),
		done:          make(chan struct{}),
		items:         make(map[string]*item),
		byHandle:      make(map[engine.Handle]string),
		lastStatus:    now,
		lastResume:    now,
	}
}

// Policy returns the configured completion policy.
func (m *Manager) Policy() CompletionPolicy {
	return m.cfg.Completion
}

// Notifications is closed once Run has finished shutting down.
func (m *Manager) Notifications() <-chan domain.Notification {
	return m.notifications
}

// Done is closed once Run returns.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Submit enqueues a command without blocking.
func (m *Manager) Submit(cmd domain.Command) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.stopped {
		return domain.ErrStopped
	}
	select {
	case m.commands <- cmd:
		return nil
	default:
		return domain.ErrQueueFull
	}
}

func (m *Manager) Add(cmd domain.AddCommand) error {
	return m.Submit(cmd)
}

func (m *Manager) Remove(name string, deleteFiles bool) error {
	return m.Submit(domain.RemoveCommand{Name: name, DeleteFiles: deleteFiles})
}

func (m *Manager) Pause(name string) error {
	return m.Submit(domain.PauseCommand{Name: name})
}

func (m *Manager) Resume(name string) error {
	return m.Submit(domain.ResumeCommand{Name: name})
}

func (m *Manager) SetPriority(name string, fileIndex int, prio domain.Priority) error {
	return m.Submit(domain.SetPriorityCommand{Name: name, FileIndex: fileIndex, Priority: prio})
}

// List returns a snapshot of every item, sorted by name. The snapshot is
// taken on the loop goroutine in command order.
func (m *Manager) List(ctx context.Context) ([]domain.DownloadItem, error) {
	q := listQuery{reply: make(chan []domain.DownloadItem, 1)}
	if err := m.Submit(q); err != nil {
		return nil, err
	}
	select {
	case items := <-q.reply:
		return items, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		select {
		case items := <-q.reply:
			return items, nil
		default:
			return nil, domain.ErrStopped
		}
	}
}

// Run drives the loop until ctx is cancelled, then shuts down: queued
// commands are applied, final resume data is requested and persisted for up
// to ShutdownGrace, and the notification channel is closed.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("manager already running")
	}
	defer close(m.done)

	m.log.Infof("scheduler started, max concurrent downloads: %d", m.cfg.MaxConcurrent)
	for ctx.Err() == nil {
		m.tick(ctx)
		m.engine.Wait(ctx, m.cfg.TickInterval)
	}
	m.shutdown()
	m.log.Info("scheduler stopped")
	return nil
}

func (m *Manager) tick(ctx context.Context) {
	m.drainCommands(ctx, m.cfg.QueueSize)
	m.drainEvents(ctx)

	now := m.clock.Now()
	statusDue := now.Sub(m.lastStatus) >= m.cfg.StatusInterval
	if statusDue {
		m.lastStatus = now
		m.pollStatuses(ctx)
	}

	m.admit(ctx)

	if statusDue {
		m.publishProgress(ctx)
	}

	if now.Sub(m.lastResume) >= m.cfg.ResumeInterval {
		m.lastResume = now
		m.requestResumeData()
	}
}

// drainCommands applies up to limit queued commands; limit <= 0 drains everything.
func (m *Manager) drainCommands(ctx context.Context, limit int) {
	for i := 0; limit <= 0 || i < limit; i++ {
		select {
		case cmd := <-m.commands:
			m.apply(ctx, cmd)
		default:
			return
		}
	}
}

func (m *Manager) drainEvents(ctx context.Context) []engine.Event {
	events := m.engine.DrainEvents()
	for _, ev := range events {
		m.handleEvent(ctx, ev)
	}
	return events
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	m.stopped = true
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ShutdownGrace)
	defer cancel()

	m.drainCommands(ctx, 0)
	m.drainEvents(ctx)

	pending := make(map[engine.Handle]struct{})
	for _, name := range m.sortedNames() {
		it := m.items[name]
		if !it.HasMetadata || it.State == domain.StateCompleted {
			continue
		}
		if err := m.engine.RequestResumeData(it.handle); err != nil {
			it.log.Debugf("final resume data: %v", err)
			continue
		}
		pending[it.handle] = struct{}{}
	}
	if len(pending) > 0 {
		m.log.Infof("waiting for resume data from %d items", len(pending))
	}

	for len(pending) > 0 && ctx.Err() == nil {
		m.engine.Wait(ctx, m.cfg.TickInterval)
		for _, ev := range m.drainEvents(ctx) {
			if ev.Kind == engine.EventResumeDataReady || ev.Kind == engine.EventResumeDataFailed {
				delete(pending, ev.Handle)
			}
		}
	}
	if len(pending) > 0 {
		m.log.Warnf("shutdown grace elapsed with %d resume saves outstanding", len(pending))
	}

	close(m.notifications)
}

func (m *Manager) snapshot() []domain.DownloadItem {
	out := make([]domain.DownloadItem, 0, len(m.items))
	for _, name := range m.sortedNames() {
		out = append(out, m.items[name].Clone())
	}
	return out
}

// move validates a state change, runs its engine side effect and applies it.
// A failed side effect leaves the state untouched and is reported.
func (m *Manager) move(ctx context.Context, it *item, trigger Trigger, to domain.ItemState, effect func(engine.Handle) error) bool {
	if err := checkTransition(it.State, trigger, to); err != nil {
		it.log.Debugf("ignored: %v", err)
		return false
	}
	if effect != nil {
		if err := effect(it.handle); err != nil {
			m.reportError(ctx, it.Name, fmt.Errorf("%s: %w", trigger, err))
			return false
		}
	}
	from := it.State
	it.State = to
	it.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("state changed")
	if m.onTransition != nil {
		m.onTransition(it.Name, from, to, trigger)
	}
	return true
}

func (m *Manager) register(it *item) {
	m.items[it.Name] = it
	m.byHandle[it.handle] = it.Name
}

func (m *Manager) unregister(it *item) {
	delete(m.items, it.Name)
	delete(m.byHandle, it.handle)
}

func (m *Manager) reportError(ctx context.Context, name string, err error) {
	m.log.WithField("item", name).Warn(err)
	m.notify(ctx, domain.Notification{
		Kind:    domain.NotifyError,
		Name:    name,
		Message: err.Error(),
	})
}

// notify publishes n. Progress updates are dropped when the consumer lags;
// everything else waits for room until ctx ends.
func (m *Manager) notify(ctx context.Context, n domain.Notification) {
	n.ID = uuid.NewString()
	n.At = m.clock.Now()
	if n.Kind == domain.NotifyProgress {
		select {
		case m.notifications <- n:
		default:
			m.log.WithField("item", n.Name).Debug("progress notification dropped")
		}
		return
	}
	select {
	case m.notifications <- n:
	case <-ctx.Done():
		m.log.WithField("item", n.Name).Warnf("%s notification dropped: %v", n.Kind, ctx.Err())
	}
}

func (m *Manager) loadResume(ctx context.Context, name string) []byte {
	if m.resume == nil {
		return nil
	}
	blob, err := m.resume.Load(ctx, name)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		m.log.WithField("item", name).Warnf("load resume data: %v", err)
		return nil
	}
	return blob
}

func (m *Manager) deleteResume(ctx context.Context, name string) {
	if m.resume == nil {
		return
	}
	if err := m.resume.Delete(ctx, name); err != nil {
		m.log.WithField("item", name).Warnf("delete resume data: %v", err)
	}
}
