// Package memory is an in-process implementation of every storefront store.
// A single mutex serialises all access, which makes each transaction
// trivially isolated; rollback replays an undo log.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	accountdomain "github.com/dmehra2102/sweet-shop/internal/account/domain"
	catalogdomain "github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	orderdomain "github.com/dmehra2102/sweet-shop/internal/order/domain"
	"github.com/dmehra2102/sweet-shop/pkg/outbox"
)

type Store struct {
	mu sync.Mutex

	accounts map[uuid.UUID]accountdomain.Account
	items    map[uuid.UUID]catalogdomain.Item
	orders   map[uuid.UUID]orderdomain.Order
	events   []outbox.Event

	seq     int64
	created map[uuid.UUID]int64
	leases  map[int64]time.Time
	now     func() time.Time
}

func New() *Store {
	return &Store{
		accounts: make(map[uuid.UUID]accountdomain.Account),
		items:    make(map[uuid.UUID]catalogdomain.Item),
		orders:   make(map[uuid.UUID]orderdomain.Order),
		created:  make(map[uuid.UUID]int64),
		leases:   make(map[int64]time.Time),
		now:      time.Now,
	}
}

// Ping always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) nextSeq() int64 {
	s.seq++
	return s.seq
}

// newestFirst sorts ids by insertion order, most recent first.
func (s *Store) newestFirst(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool { return s.created[ids[i]] > s.created[ids[j]] })
}
