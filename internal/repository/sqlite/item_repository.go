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

const createItemsTable = `
CREATE TABLE IF NOT EXISTS items (
	name TEXT PRIMARY KEY,
	source TEXT NOT NULL,
	destination_path TEXT NOT NULL,
	desired_state TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
`

type ItemRepository struct {
	db *sql.DB
}

func NewItemRepository(db *sql.DB) repository.ItemRepository {
	return &ItemRepository{db: db}
}

func (r *ItemRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createItemsTable); err != nil {
		return fmt.Errorf("create items table: %w", err)
	}
	return nil
}

func (r *ItemRepository) Upsert(ctx context.Context, record *domain.ItemRecord) error {
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	if record.DesiredState == "" {
		record.DesiredState = domain.StateDownloading
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO items (name, source, destination_path, desired_state, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	source=excluded.source,
	destination_path=excluded.destination_path,
	desired_state=excluded.desired_state,
	updated_at=excluded.updated_at`,
		record.Name,
		record.Source,
		record.DestinationPath,
		string(record.DesiredState),
		record.CreatedAt,
		record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert item: %w", err)
	}
	return nil
}

func (r *ItemRepository) UpdateDesiredState(ctx context.Context, name string, state domain.ItemState) error {
	res, err := r.db.ExecContext(ctx, `
UPDATE items SET desired_state=?, updated_at=? WHERE name=?`,
		string(state), time.Now().UTC(), name,
	)
	if err != nil {
		return fmt.Errorf("update desired state: %w", err)
	}
	return ensureAffected(res, name)
}

func (r *ItemRepository) Delete(ctx context.Context, name string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE name=?`, name); err != nil {
		return fmt.Errorf("delete item: %w", err)
	}
	return nil
}

func (r *ItemRepository) Get(ctx context.Context, name string) (*domain.ItemRecord, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT name, source, destination_path, desired_state, created_at, updated_at
FROM items WHERE name=?`, name)

	record, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("item %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (r *ItemRepository) List(ctx context.Context) ([]domain.ItemRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT name, source, destination_path, desired_state, created_at, updated_at
FROM items
ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer rows.Close()

	var records []domain.ItemRecord
	for rows.Next() {
		record, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanItem(s scanner) (*domain.ItemRecord, error) {
	var (
		record domain.ItemRecord
		state  string
	)
	if err := s.Scan(&record.Name, &record.Source, &record.DestinationPath, &state, &record.CreatedAt, &record.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	record.DesiredState = domain.ItemState(state)
	return &record, nil
}

func ensureAffected(res sql.Result, name string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("item %q: %w", name, domain.ErrNotFound)
	}
	return nil
}
