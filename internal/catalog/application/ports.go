package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

// ItemRepository persists catalog items. Every quantity change is a single
// conditional update in the store, never a read followed by a write.
type ItemRepository interface {
	Create(ctx context.Context, it domain.Item) error
	Get(ctx context.Context, id uuid.UUID) (domain.Item, error)
	List(ctx context.Context, f domain.Filter, p paging.Page) ([]domain.Item, int, error)
	Update(ctx context.Context, id uuid.UUID, patch domain.Patch, at time.Time) (domain.Item, error)
	Delete(ctx context.Context, id uuid.UUID) (domain.Item, error)
	// Decrement removes qty only if at least qty is on hand, else *domain.ShortageError.
	Decrement(ctx context.Context, id uuid.UUID, qty int, at time.Time) (domain.Item, error)
	Increment(ctx context.Context, id uuid.UUID, qty int, at time.Time) (domain.Item, error)
}
