package repository

import "context"

// ResumeRepository stores opaque per-item resume blobs keyed by item name.
// Load returns domain.ErrNotFound when no blob exists.
type ResumeRepository interface {
	Load(ctx context.Context, name string) ([]byte, error)
	Save(ctx context.Context, name string, blob []byte) error
	Delete(ctx context.Context, name string) error
}
