// Package engine defines the narrow surface the scheduler uses to drive a
// peer-to-peer transfer engine. Nothing outside the adapter implementations
// depends on a concrete engine API.
package engine

import (
	"context"
	"time"

	"magnet-queue/internal/domain"
)

// Handle is an opaque reference to a transfer registered with an Adapter.
type Handle uint64

// Status is a point-in-time snapshot of one transfer.
type Status struct {
	Progress     float64 // percent, 0..100
	DownloadRate int64
	UploadRate   int64
	Peers        int
	Seeds        int
	IsSeeding    bool
	HasMetadata  bool
	TotalWanted  int64
	TotalDone    int64
}

// EventKind enumerates asynchronous engine notifications.
type EventKind int

const (
	EventResumeDataReady EventKind = iota
	EventResumeDataFailed
	EventMetadataReceived
	EventVerificationComplete
)

func (k EventKind) String() string {
	switch k {
	case EventResumeDataReady:
		return "resume_data_ready"
	case EventResumeDataFailed:
		return "resume_data_failed"
	case EventMetadataReceived:
		return "metadata_received"
	case EventVerificationComplete:
		return "verification_complete"
	default:
		return "unknown"
	}
}

// Event is delivered through Adapter.DrainEvents in engine order.
type Event struct {
	Kind      EventKind
	Handle    Handle
	Blob      []byte  // EventResumeDataReady
	Progress  float64 // EventVerificationComplete, percent
	IsSeeding bool    // EventVerificationComplete
	Err       error   // EventResumeDataFailed
}

// Adapter is the Transfer Engine Adapter. Every method except Wait is
// non-blocking; asynchronous results arrive through DrainEvents.
type Adapter interface {
	Add(source, destination string, resumeBlob []byte) (Handle, error)
	Pause(h Handle) error
	Resume(h Handle) error
	Remove(h Handle, deleteFiles bool) error
	// SetFilePriority is best effort: false when metadata is missing or the index is out of range.
	SetFilePriority(h Handle, fileIndex int, prio domain.Priority) bool
	PollStatus(h Handle) (Status, error)
	Files(h Handle) ([]domain.FileEntry, error)
	DrainEvents() []Event
	RequestResumeData(h Handle) error
	ForceRecheck(h Handle) error
	// Wait blocks until an event is pending, the timeout elapses or ctx ends.
	Wait(ctx context.Context, timeout time.Duration) bool
	Close() error
}
