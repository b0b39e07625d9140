package downloader

import (
	"context"
	"fmt"
	"strings"

	"magnet-queue/internal/domain"
)

func (m *Manager) apply(ctx context.Context, cmd domain.Command) {
	switch c := cmd.(type) {
	case domain.AddCommand:
		m.applyAdd(ctx, c)
	case domain.RemoveCommand:
		m.applyRemove(ctx, c)
	case domain.PauseCommand:
		m.applyPause(ctx, c)
	case domain.ResumeCommand:
		m.applyResume(ctx, c)
	case domain.SetPriorityCommand:
		m.applySetPriority(ctx, c)
	case listQuery:
		c.reply <- m.snapshot()
	default:
		m.log.Warnf("unknown command %T", cmd)
	}
}

func (m *Manager) lookup(ctx context.Context, name string) (*item, bool) {
	it, ok := m.items[name]
	if !ok {
		m.reportError(ctx, name, fmt.Errorf("item %q: %w", name, domain.ErrNotFound))
	}
	return it, ok
}

func (m *Manager) rejectAdd(ctx context.Context, c domain.AddCommand, err error) {
	m.reportError(ctx, strings.TrimSpace(c.Name), err)
	replyAdd(c, err)
}

func replyAdd(c domain.AddCommand, err error) {
	if c.Result == nil {
		return
	}
	select {
	case c.Result <- err:
	default:
	}
}

func (m *Manager) applyAdd(ctx context.Context, c domain.AddCommand) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		m.rejectAdd(ctx, c, fmt.Errorf("item name is required: %w", domain.ErrEngineRejected))
		return
	}
	if _, exists := m.items[name]; exists {
		m.rejectAdd(ctx, c, fmt.Errorf("item %q already exists: %w", name, domain.ErrEngineRejected))
		return
	}

	blob := c.ResumeBlob
	if blob == nil {
		blob = m.loadResume(ctx, name)
	}

	handle, err := m.engine.Add(c.Source, c.DestinationPath, blob)
	if err != nil {
		m.rejectAdd(ctx, c, fmt.Errorf("add: %w", err))
		return
	}

	it := &item{
		DownloadItem: domain.DownloadItem{
			Name:            name,
			Source:          c.Source,
			DestinationPath: c.DestinationPath,
			State:           domain.StateQueued,
			ETASeconds:      domain.ETAUnknown,
			AddedAt:         m.clock.Now(),
		},
		handle: handle,
		log:    m.log.WithField("item", name),
	}
	m.register(it)
	it.log.WithField("resumed", blob != nil).Info("item added")
	replyAdd(c, nil)

	// the engine registers transfers paused
	if c.Paused {
		m.move(ctx, it, TriggerPause, domain.StatePaused, nil)
		return
	}
	m.move(ctx, it, TriggerAdmit, domain.StateDownloading, m.engine.Resume)
}

func (m *Manager) applyRemove(ctx context.Context, c domain.RemoveCommand) {
	it, ok := m.lookup(ctx, c.Name)
	if !ok {
		return
	}
	if err := m.engine.Remove(it.handle, c.DeleteFiles); err != nil {
		m.reportError(ctx, it.Name, fmt.Errorf("remove: %w", err))
		return
	}
	m.unregister(it)
	m.deleteResume(ctx, it.Name)
	it.log.WithField("delete_files", c.DeleteFiles).Info("item removed")
}

func (m *Manager) applyPause(ctx context.Context, c domain.PauseCommand) {
	it, ok := m.lookup(ctx, c.Name)
	if !ok {
		return
	}
	switch it.State {
	case domain.StatePaused:
		return
	case domain.StateSeeding:
		if m.move(ctx, it, TriggerPause, domain.StateCompleted, m.engine.Pause) {
			m.deleteResume(ctx, it.Name)
			it.log.Info("seeding stopped")
		}
		return
	}
	if m.move(ctx, it, TriggerPause, domain.StatePaused, m.engine.Pause) {
		it.log.Info("paused")
	}
}

func (m *Manager) applyResume(ctx context.Context, c domain.ResumeCommand) {
	it, ok := m.lookup(ctx, c.Name)
	if !ok {
		return
	}
	if it.State != domain.StatePaused {
		it.log.Debugf("resume ignored in state %s", it.State)
		return
	}
	if m.hasCapacity() {
		if m.move(ctx, it, TriggerResume, domain.StateDownloading, m.engine.Resume) {
			it.log.Info("resumed")
		}
		return
	}
	if m.move(ctx, it, TriggerResume, domain.StateStalled, m.engine.Pause) {
		it.log.Info("resumed into stalled, no free slot")
	}
}

func (m *Manager) applySetPriority(ctx context.Context, c domain.SetPriorityCommand) {
	it, ok := m.lookup(ctx, c.Name)
	if !ok {
		return
	}
	if !m.engine.SetFilePriority(it.handle, c.FileIndex, c.Priority) {
		it.log.Debugf("priority %s for file %d not applied", c.Priority, c.FileIndex)
		return
	}
	if c.FileIndex >= 0 && c.FileIndex < len(it.Files) {
		it.Files[c.FileIndex].Priority = c.Priority
	}
}
