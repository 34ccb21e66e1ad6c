package memory

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

type ItemRepository struct{ s *Store }

func (s *Store) Items() *ItemRepository { return &ItemRepository{s: s} }

func (r *ItemRepository) Create(_ context.Context, it domain.Item) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.nameTaken(it.Name, uuid.Nil) {
		return domain.ErrNameTaken
	}
	r.s.items[it.ID] = it
	r.s.created[it.ID] = r.s.nextSeq()
	return nil
}

func (r *ItemRepository) Get(_ context.Context, id uuid.UUID) (domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return it, nil
}

func (r *ItemRepository) List(_ context.Context, f domain.Filter, p paging.Page) ([]domain.Item, int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(r.s.items))
	for id, it := range r.s.items {
		if f.Matches(it) {
			ids = append(ids, id)
		}
	}
	r.s.newestFirst(ids)

	lo, hi := p.Window(len(ids))
	out := make([]domain.Item, 0, hi-lo)
	for _, id := range ids[lo:hi] {
		out = append(out, r.s.items[id])
	}
	return out, len(ids), nil
}

func (r *ItemRepository) Update(_ context.Context, id uuid.UUID, patch domain.Patch, at time.Time) (domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if patch.Name != nil && r.s.nameTaken(*patch.Name, id) {
		return domain.Item{}, domain.ErrNameTaken
	}
	it = patch.Apply(it, at)
	r.s.items[id] = it
	return it, nil
}

func (r *ItemRepository) Delete(_ context.Context, id uuid.UUID) (domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	it, ok := r.s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	delete(r.s.items, id)
	delete(r.s.created, id)
	return it, nil
}

func (r *ItemRepository) Decrement(_ context.Context, id uuid.UUID, qty int, at time.Time) (domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return r.s.adjustStock(id, -qty, at)
}

func (r *ItemRepository) Increment(_ context.Context, id uuid.UUID, qty int, at time.Time) (domain.Item, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if it, ok := r.s.items[id]; ok && it.Quantity > domain.MaxQuantity-qty {
		return domain.Item{}, domain.ErrStockLimit
	}
	return r.s.adjustStock(id, qty, at)
}

// adjustStock applies delta unless the result would be negative. Callers hold mu.
func (s *Store) adjustStock(id uuid.UUID, delta int, at time.Time) (domain.Item, error) {
	it, ok := s.items[id]
	if !ok {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if it.Quantity+delta < 0 {
		return domain.Item{}, &domain.ShortageError{ItemID: id, Requested: -delta, Available: it.Quantity}
	}
	it.Quantity += delta
	it.UpdatedAt = at
	s.items[id] = it
	return it, nil
}

func (s *Store) nameTaken(name string, except uuid.UUID) bool {
	for id, it := range s.items {
		if id != except && strings.EqualFold(it.Name, name) {
			return true
		}
	}
	return false
}
