package downloader

import (
	"context"
	"fmt"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/engine"
)

// handleEvent routes one engine event to its item. Events for handles that
// are no longer in the table belong to removed items and are discarded.
func (m *Manager) handleEvent(ctx context.Context, ev engine.Event) {
	name, ok := m.byHandle[ev.Handle]
	if !ok {
		m.log.Debugf("discarding %s for unknown handle %d", ev.Kind, ev.Handle)
		return
	}
	it := m.items[name]

	switch ev.Kind {
	case engine.EventResumeDataReady:
		// A completed item's blob was already deleted; a late reply must not bring it back.
		if it.State == domain.StateCompleted {
			it.log.Debug("resume data for completed item discarded")
			return
		}
		m.saveResume(ctx, it, ev.Blob)
	case engine.EventResumeDataFailed:
		it.log.Debugf("resume data unavailable: %v", ev.Err)
	case engine.EventMetadataReceived:
		it.HasMetadata = true
		m.refreshFiles(it)
		it.log.WithField("files", len(it.Files)).Info("metadata received")
		m.notify(ctx, domain.Notification{
			Kind:  domain.NotifyFilesUpdated,
			Name:  it.Name,
			State: it.State,
		})
	case engine.EventVerificationComplete:
		if it.State != domain.StateVerifying {
			it.log.Debugf("verification result ignored in state %s", it.State)
			return
		}
		m.applyVerification(ctx, it, ev.Progress)
	default:
		it.log.Debugf("unhandled engine event %s", ev.Kind)
	}
}

func (m *Manager) saveResume(ctx context.Context, it *item, blob []byte) {
	if m.resume == nil {
		return
	}
	if err := m.resume.Save(ctx, it.Name, blob); err != nil {
		m.reportError(ctx, it.Name, fmt.Errorf("save resume data: %w", err))
		return
	}
	it.log.Debugf("resume data saved (%d bytes)", len(blob))
}

// applyVerification finishes a recheck. At or above the threshold the item
// completes according to the completion policy; below it the item goes back
// to downloading with its verification guard cleared.
func (m *Manager) applyVerification(ctx context.Context, it *item, progress float64) {
	it.pendingVerify = nil

	if progress < m.cfg.VerifyThreshold {
		if !m.move(ctx, it, TriggerVerifyFailed, domain.StateDownloading, m.engine.Resume) {
			it.pendingVerify = &progress
			return
		}
		it.VerificationRequested = false
		it.Progress = progress
		it.log.Infof("%v: %.2f%% below %.2f%%, downloading again", domain.ErrVerificationFailed, progress, m.cfg.VerifyThreshold)
		return
	}

	switch m.cfg.Completion {
	case CompletionSeed:
		if !m.move(ctx, it, TriggerVerified, domain.StateSeeding, nil) {
			return
		}
		it.Progress = progress
		it.log.Info("verified, seeding")
		m.notifyCompleted(ctx, it)
	case CompletionRetain:
		if !m.move(ctx, it, TriggerVerified, domain.StateCompleted, m.engine.Pause) {
			it.pendingVerify = &progress
			return
		}
		it.Progress = progress
		m.deleteResume(ctx, it.Name)
		it.log.Info("verified, completed")
		m.notifyCompleted(ctx, it)
	default:
		remove := func(h engine.Handle) error { return m.engine.Remove(h, false) }
		if !m.move(ctx, it, TriggerVerified, domain.StateCompleted, remove) {
			it.pendingVerify = &progress
			return
		}
		it.Progress = progress
		m.unregister(it)
		m.deleteResume(ctx, it.Name)
		it.log.Info("verified, completed and removed")
		m.notifyCompleted(ctx, it)
	}
}

func (m *Manager) notifyCompleted(ctx context.Context, it *item) {
	m.notify(ctx, domain.Notification{
		Kind:     domain.NotifyCompleted,
		Name:     it.Name,
		State:    it.State,
		Progress: it.Progress,
	})
}
