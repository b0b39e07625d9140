package downloader

import (
	"context"
	"errors"
	"fmt"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/engine"
)

// pollStatuses refreshes every live item from the engine and starts a
// verification for downloads that look finished.
func (m *Manager) pollStatuses(ctx context.Context) {
	for _, name := range m.sortedNames() {
		it := m.items[name]
		if it.State == domain.StateCompleted {
			continue
		}
		st, err := m.engine.PollStatus(it.handle)
		if err != nil {
			m.reportError(ctx, it.Name, fmt.Errorf("poll status: %w", err))
			continue
		}
		m.applyStatus(it, st)

		if it.pendingVerify != nil && it.State == domain.StateVerifying {
			m.applyVerification(ctx, it, *it.pendingVerify)
			continue
		}

		if it.State == domain.StateDownloading && !it.VerificationRequested && (st.Progress >= 100 || st.IsSeeding) {
			if m.move(ctx, it, TriggerDownloadFinished, domain.StateVerifying, m.engine.ForceRecheck) {
				it.VerificationRequested = true
				it.log.Info("download finished, verifying")
			}
		}
	}
}

func (m *Manager) applyStatus(it *item, st engine.Status) {
	it.Progress = st.Progress
	it.DownloadRate = nonNegative(st.DownloadRate)
	it.UploadRate = nonNegative(st.UploadRate)
	it.PeerCount = max(st.Peers, 0)
	it.SeedCount = max(st.Seeds, 0)
	it.TotalSize = nonNegative(st.TotalWanted)
	it.ETASeconds = eta(st.TotalWanted-st.TotalDone, st.DownloadRate)
	if st.HasMetadata && !it.HasMetadata {
		it.HasMetadata = true
	}
	if it.HasMetadata {
		m.refreshFiles(it)
	}
}

// eta returns whole seconds left at the current rate, rounded up.
func eta(remaining, rate int64) int64 {
	if remaining <= 0 {
		return 0
	}
	if rate <= 0 {
		return domain.ETAUnknown
	}
	return (remaining + rate - 1) / rate
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}

// refreshFiles reloads the file list, keeping the priority the user chose
// for each index.
func (m *Manager) refreshFiles(it *item) {
	files, err := m.engine.Files(it.handle)
	if err != nil {
		if !errors.Is(err, domain.ErrResumeDataUnavailable) {
			it.log.Debugf("files: %v", err)
		}
		return
	}
	for i := range files {
		if i < len(it.Files) && it.Files[i].Path == files[i].Path {
			files[i].Priority = it.Files[i].Priority
		}
	}
	it.Files = files
}

func (m *Manager) publishProgress(ctx context.Context) {
	for _, name := range m.sortedNames() {
		it := m.items[name]
		if it.State == domain.StateCompleted {
			continue
		}
		m.notify(ctx, domain.Notification{
			Kind:         domain.NotifyProgress,
			Name:         it.Name,
			Progress:     it.Progress,
			State:        it.State,
			DownloadRate: it.DownloadRate,
			UploadRate:   it.UploadRate,
			ETASeconds:   it.ETASeconds,
		})
	}
}

func (m *Manager) requestResumeData() {
	for _, name := range m.sortedNames() {
		it := m.items[name]
		if !it.HasMetadata || it.State == domain.StateCompleted {
			continue
		}
		if err := m.engine.RequestResumeData(it.handle); err != nil {
			if errors.Is(err, domain.ErrResumeDataUnavailable) {
				it.log.Debug("resume data not ready yet")
				continue
			}
			it.log.Warnf("request resume data: %v", err)
		}
	}
}
