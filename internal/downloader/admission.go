package downloader

import (
	"context"
	"sort"

	"magnet-queue/internal/domain"
)

// admit keeps at most MaxConcurrent items downloading. Items are ranked by
// name: the lowest names keep their slots and are promoted first. Paused,
// verifying, seeding and completed items are never touched.
func (m *Manager) admit(ctx context.Context) {
	downloading := m.namesIn(domain.StateDownloading)
	active := len(downloading)

	if active > m.cfg.MaxConcurrent {
		for _, name := range downloading[m.cfg.MaxConcurrent:] {
			it := m.items[name]
			if m.move(ctx, it, TriggerDemote, domain.StateStalled, m.engine.Pause) {
				active--
				it.log.Info("demoted, over concurrency limit")
			}
		}
	}

	if active >= m.cfg.MaxConcurrent {
		return
	}
	for _, name := range m.namesIn(domain.StateQueued, domain.StateStalled) {
		if active >= m.cfg.MaxConcurrent {
			return
		}
		it := m.items[name]
		if m.move(ctx, it, TriggerAdmit, domain.StateDownloading, m.engine.Resume) {
			active++
			it.log.Info("admitted")
		}
	}
}

func (m *Manager) hasCapacity() bool {
	return len(m.namesIn(domain.StateDownloading)) < m.cfg.MaxConcurrent
}

// namesIn returns the names of items in any of the given states, sorted.
func (m *Manager) namesIn(states ...domain.ItemState) []string {
	var names []string
	for name, it := range m.items {
		for _, s := range states {
			if it.State == s {
				names = append(names, name)
				break
			}
		}
	}
	sort.Strings(names)
	return names
}

func (m *Manager) sortedNames() []string {
	names := make([]string, 0, len(m.items))
	for name := range m.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
