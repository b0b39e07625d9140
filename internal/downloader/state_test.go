package downloader

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"magnet-queue/internal/domain"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from    domain.ItemState
		trigger Trigger
		to      domain.ItemState
		want    bool
	}{
		{domain.StateQueued, TriggerAdmit, domain.StateDownloading, true},
		{domain.StateQueued, TriggerPause, domain.StatePaused, true},
		{domain.StateDownloading, TriggerPause, domain.StatePaused, true},
		{domain.StateDownloading, TriggerDemote, domain.StateStalled, true},
		{domain.StateDownloading, TriggerDownloadFinished, domain.StateVerifying, true},
		{domain.StateStalled, TriggerAdmit, domain.StateDownloading, true},
		{domain.StateStalled, TriggerPause, domain.StatePaused, true},
		{domain.StatePaused, TriggerResume, domain.StateDownloading, true},
		{domain.StatePaused, TriggerResume, domain.StateStalled, true},
		{domain.StateVerifying, TriggerVerified, domain.StateCompleted, true},
		{domain.StateVerifying, TriggerVerified, domain.StateSeeding, true},
		{domain.StateVerifying, TriggerVerifyFailed, domain.StateDownloading, true},
		{domain.StateSeeding, TriggerPause, domain.StateCompleted, true},

		{domain.StatePaused, TriggerAdmit, domain.StateDownloading, false},
		{domain.StatePaused, TriggerDemote, domain.StateStalled, false},
		{domain.StateVerifying, TriggerPause, domain.StatePaused, false},
		{domain.StateVerifying, TriggerDemote, domain.StateStalled, false},
		{domain.StateSeeding, TriggerDemote, domain.StateStalled, false},
		{domain.StateCompleted, TriggerResume, domain.StateDownloading, false},
		{domain.StateCompleted, TriggerAdmit, domain.StateDownloading, false},
		{domain.StateStalled, TriggerDownloadFinished, domain.StateVerifying, false},
		{domain.StateQueued, TriggerAdmit, domain.StateStalled, false},
	}
	for _, tc := range tests {
		t.Run(string(tc.from)+"_"+string(tc.trigger)+"_"+string(tc.to), func(t *testing.T) {
			assert.Equal(t, tc.want, CanTransition(tc.from, tc.trigger, tc.to))
			err := checkTransition(tc.from, tc.trigger, tc.to)
			if tc.want {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, domain.ErrInvalidTransition)
			}
		})
	}
}

func TestCompletedIsTerminal(t *testing.T) {
	assert.Empty(t, transitions[domain.StateCompleted])
}

// Every edge of the table is taken by at least one scripted scenario.
func TestEveryTransitionReachable(t *testing.T) {
	seen := make(map[transitionRecord]bool)
	record := func(h *harness) {
		for _, tr := range h.transitions {
			seen[transitionRecord{from: tr.from, to: tr.to, trigger: tr.trigger}] = true
		}
	}

	for _, policy := range []CompletionPolicy{CompletionRemove, CompletionSeed} {
		h := newHarness(t, Config{MaxConcurrent: 1, Completion: policy})
		h.add("A", "B")
		h.submit(domain.AddCommand{Name: "C", Source: "magnet:C", Paused: true})
		h.step()
		// B stalled, C paused
		h.submit(domain.ResumeCommand{Name: "C"})
		h.submit(domain.PauseCommand{Name: "B"})
		h.step()
		h.submit(domain.PauseCommand{Name: "A"})
		h.submit(domain.ResumeCommand{Name: "B"})
		h.step()

		name := h.m.namesIn(domain.StateDownloading)[0]
		hd := h.handle(name)
		h.eng.setProgress(hd, 100, 0)
		h.statusPass()
		h.eng.push(eventVerified(hd, 10))
		h.step()
		h.statusPass()
		h.eng.push(eventVerified(hd, 100))
		h.step()
		if policy == CompletionSeed {
			h.submit(domain.PauseCommand{Name: name})
			h.step()
		}
		record(h)
	}

	for from, byTrigger := range transitions {
		for trigger, targets := range byTrigger {
			for _, to := range targets {
				assert.True(t, seen[transitionRecord{from: from, to: to, trigger: trigger}],
					"%s -%s-> %s never taken", from, trigger, to)
			}
		}
	}
}
