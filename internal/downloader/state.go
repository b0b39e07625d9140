package downloader

import (
	"fmt"

	"magnet-queue/internal/domain"
)

// Trigger names the cause of a state change.
type Trigger string

const (
	TriggerAdmit            Trigger = "admit"
	TriggerDemote           Trigger = "demote"
	TriggerPause            Trigger = "pause"
	TriggerResume           Trigger = "resume"
	TriggerDownloadFinished Trigger = "download_finished"
	TriggerVerified         Trigger = "verified"
	TriggerVerifyFailed     Trigger = "verify_failed"
)

// transitions lists every state change the scheduler may take.
var transitions = map[domain.ItemState]map[Trigger][]domain.ItemState{
	domain.StateQueued: {
		TriggerAdmit: {domain.StateDownloading},
		TriggerPause: {domain.StatePaused},
	},
	domain.StateDownloading: {
		TriggerPause:            {domain.StatePaused},
		TriggerDemote:           {domain.StateStalled},
		TriggerDownloadFinished: {domain.StateVerifying},
	},
	domain.StateStalled: {
		TriggerAdmit: {domain.StateDownloading},
		TriggerPause: {domain.StatePaused},
	},
	domain.StatePaused: {
		TriggerResume: {domain.StateDownloading, domain.StateStalled},
	},
	domain.StateVerifying: {
		TriggerVerified:     {domain.StateCompleted, domain.StateSeeding},
		TriggerVerifyFailed: {domain.StateDownloading},
	},
	domain.StateSeeding: {
		TriggerPause: {domain.StateCompleted},
	},
}

// CanTransition reports whether trigger may move an item from one state to another.
func CanTransition(from domain.ItemState, trigger Trigger, to domain.ItemState) bool {
	for _, allowed := range transitions[from][trigger] {
		if allowed == to {
			return true
		}
	}
	return false
}

func checkTransition(from domain.ItemState, trigger Trigger, to domain.ItemState) error {
	if CanTransition(from, trigger, to) {
		return nil
	}
	return fmt.Errorf("%s on %s -> %s: %w", trigger, from, to, domain.ErrInvalidTransition)
}
