package domain

import "time"

type NotificationKind string

const (
	NotifyProgress     NotificationKind = "progress"
	NotifyCompleted    NotificationKind = "completed"
	NotifyError        NotificationKind = "error"
	NotifyFilesUpdated NotificationKind = "files_updated"
)

// Notification is published by the scheduler on its outbound channel.
type Notification struct {
	ID           string           `json:"id"`
	Kind         NotificationKind `json:"kind"`
	Name         string           `json:"name"`
	Progress     float64          `json:"progress,omitempty"`
	State        ItemState        `json:"state,omitempty"`
	DownloadRate int64            `json:"download_rate,omitempty"`
	UploadRate   int64            `json:"upload_rate,omitempty"`
	ETASeconds   int64            `json:"eta,omitempty"`
	Message      string           `json:"message,omitempty"`
	At           time.Time        `json:"at"`
}
