package application

import (
	"context"

	"github.com/google/uuid"

	catalog "github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/internal/order/domain"
	"github.com/dmehra2102/sweet-shop/pkg/outbox"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

// Store runs order workflows. ExecTx commits when fn returns nil and rolls
// every change back otherwise, including stock already reserved.
type Store interface {
	ExecTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Get(ctx context.Context, id uuid.UUID) (domain.Order, error)
	List(ctx context.Context, f domain.ListFilter, p paging.Page) ([]domain.Order, int, error)
}

// Tx is the set of operations available inside one transaction.
type Tx interface {
	// LockItems returns the referenced items that exist, locked for the rest
	// of the transaction.
	LockItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalog.Item, error)
	// ReserveStock decrements qty only if at least qty is on hand. A shortfall
	// is reported as *catalog.ShortageError.
	ReserveStock(ctx context.Context, id uuid.UUID, qty int) (catalog.Item, error)
	// ReleaseStock puts qty back. It reports false when the item is gone.
	ReleaseStock(ctx context.Context, id uuid.UUID, qty int) (bool, error)
	InsertOrder(ctx context.Context, o domain.Order) error
	LockOrder(ctx context.Context, id uuid.UUID) (domain.Order, error)
	// SaveState persists status, payment status and updated_at.
	SaveState(ctx context.Context, o domain.Order) error
	Enqueue(ctx context.Context, ev outbox.Event) error
}
