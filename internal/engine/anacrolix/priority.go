package anacrolix

import (
	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/types"

	"magnet-queue/internal/domain"
)

// mapPriority translates the user vocabulary onto anacrolix piece priorities.
// anacrolix has no "low", so Low downloads at Normal.
func mapPriority(prio domain.Priority) types.PiecePriority {
	switch prio {
	case domain.PrioritySkip:
		return torrent.PiecePriorityNone
	case domain.PriorityHigh:
		return torrent.PiecePriorityHigh
	case domain.PriorityLow, domain.PriorityNormal:
		return torrent.PiecePriorityNormal
	default:
		return torrent.PiecePriorityNormal
	}
}

func unmapPriority(prio types.PiecePriority) domain.Priority {
	switch {
	case prio == torrent.PiecePriorityNone:
		return domain.PrioritySkip
	case prio == torrent.PiecePriorityNormal:
		return domain.PriorityNormal
	default:
		return domain.PriorityHigh
	}
}
