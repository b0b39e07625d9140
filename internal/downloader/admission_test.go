package downloader

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/engine"
)

func eventVerified(h engine.Handle, progress float64) engine.Event {
	return engine.Event{Kind: engine.EventVerificationComplete, Handle: h, Progress: progress}
}

var fuzzNames = []string{"alpha", "bravo", "charlie", "delta", "echo", "foxtrot"}

// randomStep submits one random command or engine event.
func randomStep(h *harness, rng *rand.Rand) {
	name := fuzzNames[rng.Intn(len(fuzzNames))]
	it, live := h.m.items[name]

	switch rng.Intn(10) {
	case 0, 1:
		h.submit(domain.AddCommand{Name: name, Source: "magnet:" + name, Paused: rng.Intn(4) == 0})
	case 2:
		h.submit(domain.RemoveCommand{Name: name, DeleteFiles: rng.Intn(2) == 0})
	case 3:
		h.submit(domain.PauseCommand{Name: name})
	case 4:
		h.submit(domain.ResumeCommand{Name: name})
	case 5:
		h.submit(domain.SetPriorityCommand{Name: name, FileIndex: rng.Intn(3), Priority: domain.PriorityHigh})
	case 6:
		if live && h.eng.transfer(it.handle) != nil {
			h.eng.setMetadata(it.handle, domain.FileEntry{Name: name, Path: name, Size: 1000})
		}
	case 7:
		if live {
			h.eng.setProgress(it.handle, float64(rng.Intn(3))*50, int64(rng.Intn(500)))
		}
	case 8:
		if live {
			h.eng.push(eventVerified(it.handle, []float64{20, 99.7, 99.8, 100}[rng.Intn(4)]))
		}
	case 9:
		h.clock.Advance(time.Duration(rng.Intn(3000)) * time.Millisecond)
	}
}

func runRandom(t *testing.T, seed int64, maxConcurrent int, policy CompletionPolicy, steps int, check func(h *harness)) *harness {
	h := newHarness(t, Config{MaxConcurrent: maxConcurrent, Completion: policy, ResumeInterval: 5 * time.Second})
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < steps; i++ {
		for n := rng.Intn(4); n >= 0; n-- {
			randomStep(h, rng)
		}
		h.step()
		if check != nil {
			check(h)
		}
	}
	return h
}

func TestAdmissionInvariantUnderRandomInterleavings(t *testing.T) {
	policies := []CompletionPolicy{CompletionRemove, CompletionRetain, CompletionSeed}
	for seed := int64(1); seed <= 12; seed++ {
		for maxConcurrent := 1; maxConcurrent <= 3; maxConcurrent++ {
			policy := policies[int(seed)%len(policies)]
			t.Run(fmt.Sprintf("seed%d_max%d_%s", seed, maxConcurrent, policy), func(t *testing.T) {
				runRandom(t, seed, maxConcurrent, policy, 300, func(h *harness) {
					require.LessOrEqual(t, h.countIn(domain.StateDownloading), maxConcurrent)
					for _, it := range h.m.items {
						require.GreaterOrEqual(t, it.Progress, 0.0)
						require.LessOrEqual(t, it.Progress, 100.0)
						name, ok := h.m.byHandle[it.handle]
						require.True(t, ok)
						require.Equal(t, it.Name, name)
					}
					require.Len(t, h.m.byHandle, len(h.m.items))
				})
			})
		}
	}
}

func TestNoUndocumentedTransitions(t *testing.T) {
	h := runRandom(t, 99, 2, CompletionSeed, 500, nil)
	require.NotEmpty(t, h.transitions)
	for _, tr := range h.transitions {
		require.True(t, CanTransition(tr.from, tr.trigger, tr.to), "%+v", tr)
	}

	// reconstruct each item's state purely from the recorded transitions
	last := make(map[string]domain.ItemState)
	for _, tr := range h.transitions {
		if prev, ok := last[tr.name]; ok && prev != tr.from && tr.from != domain.StateQueued {
			t.Fatalf("%s moved from %s but was last seen in %s", tr.name, tr.from, prev)
		}
		last[tr.name] = tr.to
	}
	for name, it := range h.m.items {
		if it.State == domain.StateQueued {
			continue
		}
		require.Equal(t, last[name], it.State, name)
	}
}

func TestSchedulingIsDeterministic(t *testing.T) {
	snapshot := func() ([]domain.DownloadItem, []transitionRecord, []domain.NotificationKind) {
		h := runRandom(t, 7, 2, CompletionRetain, 400, nil)
		kinds := make([]domain.NotificationKind, len(h.notes))
		for i, n := range h.notes {
			kinds[i] = n.Kind
		}
		return h.m.snapshot(), h.transitions, kinds
	}

	items1, trans1, notes1 := snapshot()
	items2, trans2, notes2 := snapshot()
	require.Equal(t, items1, items2)
	require.Equal(t, trans1, trans2)
	require.Equal(t, notes1, notes2)
}
