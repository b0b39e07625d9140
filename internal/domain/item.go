package domain

import "time"

// ItemState is the scheduling state of a download item.
type ItemState string

const (
	StateQueued      ItemState = "queued"
	StateDownloading ItemState = "downloading"
	StatePaused      ItemState = "paused"
	StateStalled     ItemState = "stalled"
	StateVerifying   ItemState = "verifying"
	StateSeeding     ItemState = "seeding"
	StateCompleted   ItemState = "completed"
)

// AllStates lists every state in display order.
var AllStates = []ItemState{
	StateQueued,
	StateDownloading,
	StatePaused,
	StateStalled,
	StateVerifying,
	StateSeeding,
	StateCompleted,
}

// ETAUnknown marks an item whose remaining time cannot be estimated.
const ETAUnknown int64 = -1

// DownloadItem is one torrent tracked by the scheduler.
type DownloadItem struct {
	Name                  string
	Source                string
	DestinationPath       string
	State                 ItemState
	Progress              float64
	DownloadRate          int64
	UploadRate            int64
	PeerCount             int
	SeedCount             int
	ETASeconds            int64
	TotalSize             int64
	Files                 []FileEntry
	VerificationRequested bool
	HasMetadata           bool
	AddedAt               time.Time
}

// Clone returns a deep copy that is safe to hand outside the event loop.
func (i DownloadItem) Clone() DownloadItem {
	out := i
	if i.Files != nil {
		out.Files = make([]FileEntry, len(i.Files))
		copy(out.Files, i.Files)
	}
	return out
}

// FileEntry describes one file inside a torrent once metadata is known.
type FileEntry struct {
	Name      string
	Path      string
	Size      int64
	Progress  float64
	Priority  Priority
	Remaining int64
}

// ItemRecord is the caller-owned metadata persisted across restarts.
type ItemRecord struct {
	Name            string
	Source          string
	DestinationPath string
	DesiredState    ItemState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
