package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"magnet-queue/internal/domain"
	"magnet-queue/internal/repository"
)

const createResumeTable = `
CREATE TABLE IF NOT EXISTS resume_data (
	name TEXT PRIMARY KEY,
	blob BLOB NOT NULL,
	updated_at DATETIME NOT NULL
);
`

// ResumeRepository keeps engine resume blobs in sqlite, byte for byte.
type ResumeRepository struct {
	db *sql.DB
}

func NewResumeRepository(db *sql.DB) *ResumeRepository {
	return &ResumeRepository{db: db}
}

func (r *ResumeRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createResumeTable); err != nil {
		return fmt.Errorf("create resume_data table: %w", err)
	}
	return nil
}

func (r *ResumeRepository) Load(ctx context.Context, name string) ([]byte, error) {
	var blob []byte
	err := r.db.QueryRowContext(ctx, `SELECT blob FROM resume_data WHERE name=?`, name).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resume data for %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load resume data: %w", err)
	}
	if blob == nil {
		blob = []byte{}
	}
	return blob, nil
}

func (r *ResumeRepository) Save(ctx context.Context, name string, blob []byte) error {
	if blob == nil {
		blob = []byte{}
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO resume_data (name, blob, updated_at) VALUES (?, ?, ?)
ON CONFLICT(name) DO UPDATE SET blob=excluded.blob, updated_at=excluded.updated_at`,
		name, blob, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save resume data: %w", err)
	}
	return nil
}

func (r *ResumeRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM resume_data WHERE name=?`, name); err != nil {
		return fmt.Errorf("delete resume data: %w", err)
	}
	return nil
}

var _ repository.ResumeRepository = (*ResumeRepository)(nil)
