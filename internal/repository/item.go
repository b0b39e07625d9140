package repository

import (
	"context"

	"magnet-queue/internal/domain"
)

// ItemRepository persists the caller-owned item metadata that is re-added on startup.
type ItemRepository interface {
	Init(ctx context.Context) error
	Upsert(ctx context.Context, record *domain.ItemRecord) error
	UpdateDesiredState(ctx context.Context, name string, state domain.ItemState) error
	Delete(ctx context.Context, name string) error
	Get(ctx context.Context, name string) (*domain.ItemRecord, error)
	List(ctx context.Context) ([]domain.ItemRecord, error)
}
