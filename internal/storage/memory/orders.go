package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	catalogdomain "github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/internal/order/application"
	"github.com/dmehra2102/sweet-shop/internal/order/domain"
	"github.com/dmehra2102/sweet-shop/pkg/outbox"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

type OrderStore struct{ s *Store }

func (s *Store) Orders() *OrderStore { return &OrderStore{s: s} }

// ExecTx holds the store lock for the whole of fn. On error every change
// made through tx is undone in reverse order.
func (o *OrderStore) ExecTx(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	tx := &memTx{s: o.s}
	if err := fn(ctx, tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (o *OrderStore) Get(_ context.Context, id uuid.UUID) (domain.Order, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	ord, ok := o.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(ord), nil
}

func (o *OrderStore) List(_ context.Context, f domain.ListFilter, p paging.Page) ([]domain.Order, int, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	ids := make([]uuid.UUID, 0, len(o.s.orders))
	for id, ord := range o.s.orders {
		if f.Matches(ord) {
			ids = append(ids, id)
		}
	}
	o.s.newestFirst(ids)

	lo, hi := p.Window(len(ids))
	out := make([]domain.Order, 0, hi-lo)
	for _, id := range ids[lo:hi] {
		out = append(out, cloneOrder(o.s.orders[id]))
	}
	return out, len(ids), nil
}

type memTx struct {
	s    *Store
	undo []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) LockItems(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]catalogdomain.Item, error) {
	out := make(map[uuid.UUID]catalogdomain.Item, len(ids))
	for _, id := range ids {
		if it, ok := t.s.items[id]; ok {
			out[id] = it
		}
	}
	return out, nil
}

func (t *memTx) ReserveStock(_ context.Context, id uuid.UUID, qty int) (catalogdomain.Item, error) {
	prev, ok := t.s.items[id]
	if !ok {
		return catalogdomain.Item{}, catalogdomain.ErrItemNotFound
	}
	it, err := t.s.adjustStock(id, -qty, t.s.now().UTC())
	if err != nil {
		return catalogdomain.Item{}, err
	}
	t.undo = append(t.undo, func() { t.s.restoreItem(prev) })
	return it, nil
}

func (t *memTx) ReleaseStock(_ context.Context, id uuid.UUID, qty int) (bool, error) {
	prev, ok := t.s.items[id]
	if !ok {
		return false, nil
	}
	if _, err := t.s.adjustStock(id, qty, t.s.now().UTC()); err != nil {
		return false, err
	}
	t.undo = append(t.undo, func() { t.s.restoreItem(prev) })
	return true, nil
}

func (t *memTx) InsertOrder(_ context.Context, o domain.Order) error {
	t.s.orders[o.ID] = cloneOrder(o)
	t.s.created[o.ID] = t.s.nextSeq()
	t.undo = append(t.undo, func() {
		delete(t.s.orders, o.ID)
		delete(t.s.created, o.ID)
	})
	return nil
}

func (t *memTx) LockOrder(_ context.Context, id uuid.UUID) (domain.Order, error) {
	o, ok := t.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (t *memTx) SaveState(_ context.Context, o domain.Order) error {
	prev, ok := t.s.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	next := prev
	next.Status = o.Status
	next.PaymentStatus = o.PaymentStatus
	next.UpdatedAt = o.UpdatedAt
	t.s.orders[o.ID] = next
	t.undo = append(t.undo, func() { t.s.orders[o.ID] = prev })
	return nil
}

func (t *memTx) Enqueue(_ context.Context, ev outbox.Event) error {
	t.s.appendEvent(ev)
	n := len(t.s.events) - 1
	t.undo = append(t.undo, func() { t.s.events = t.s.events[:n] })
	return nil
}

// restoreItem puts back a snapshot unless the item was deleted meanwhile.
// Callers hold mu.
func (s *Store) restoreItem(prev catalogdomain.Item) {
	if _, ok := s.items[prev.ID]; ok {
		s.items[prev.ID] = prev
	}
}

func cloneOrder(o domain.Order) domain.Order {
	o.Lines = slices.Clone(o.Lines)
	return o
}

// Outbox exposes the queued events as an outbox.Store.
func (s *Store) Outbox() *OutboxStore { return &OutboxStore{s: s} }

const maxOutboxRetries = 5

type OutboxStore struct{ s *Store }

func (s *Store) appendEvent(ev outbox.Event) {
	ev.ID = int64(len(s.events) + 1)
	ev.Status = outbox.StatusPending
	ev.CreatedAt = s.now().UTC()
	s.events = append(s.events, ev)
}

func (o *OutboxStore) LockBatch(_ context.Context, relayID string, batchSize int, lease time.Duration) ([]outbox.Event, error) {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	now := o.s.now()
	var out []outbox.Event
	for i := range o.s.events {
		if len(out) == batchSize {
			break
		}
		ev := &o.s.events[i]
		claimable := ev.Status == outbox.StatusPending ||
			(ev.Status == outbox.StatusFailed && ev.RetryCount < maxOutboxRetries) ||
			(ev.Status == outbox.StatusInProgress && now.After(o.s.leases[ev.ID]))
		if !claimable {
			continue
		}
		ev.Status = outbox.StatusInProgress
		ev.RelayID = relayID
		o.s.leases[ev.ID] = now.Add(lease)
		out = append(out, *ev)
	}
	return out, nil
}

func (o *OutboxStore) MarkSent(_ context.Context, ids []int64) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	for _, id := range ids {
		if ev := o.s.event(id); ev != nil {
			ev.Status = outbox.StatusSent
			delete(o.s.leases, id)
		}
	}
	return nil
}

func (o *OutboxStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()

	if ev := o.s.event(id); ev != nil {
		ev.Status = outbox.StatusFailed
		ev.RetryCount++
		ev.LastError = &errMsg
		delete(o.s.leases, id)
	}
	return nil
}

// Events returns a copy of every queued event.
func (o *OutboxStore) Events() []outbox.Event {
	o.s.mu.Lock()
	defer o.s.mu.Unlock()
	return slices.Clone(o.s.events)
}

func (s *Store) event(id int64) *outbox.Event {
	if id < 1 || int(id) > len(s.events) {
		return nil
	}
	return &s.events[id-1]
}
