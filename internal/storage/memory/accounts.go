package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/sweet-shop/internal/account/domain"
)

type AccountRepository struct{ s *Store }

func (s *Store) Accounts() *AccountRepository { return &AccountRepository{s: s} }

func (r *AccountRepository) Create(_ context.Context, acc domain.Account) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.accounts {
		if a.Email == acc.Email {
			return domain.ErrEmailTaken
		}
	}
	r.s.accounts[acc.ID] = cloneAccount(acc)
	return nil
}

func (r *AccountRepository) FindByEmail(_ context.Context, email string) (domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, a := range r.s.accounts {
		if a.Email == email {
			return cloneAccount(a), nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (r *AccountRepository) FindByID(_ context.Context, id uuid.UUID) (domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (r *AccountRepository) RecordLogin(_ context.Context, id uuid.UUID, at time.Time, refreshHash string) error {
	return r.update(id, func(a *domain.Account) {
		a.LastLogin = &at
		a.RefreshTokenHash = &refreshHash
		a.UpdatedAt = at
	})
}

func (r *AccountRepository) SetRefreshTokenHash(_ context.Context, id uuid.UUID, hash *string) error {
	return r.update(id, func(a *domain.Account) {
		if hash == nil {
			a.RefreshTokenHash = nil
			return
		}
		h := *hash
		a.RefreshTokenHash = &h
	})
}

func (r *AccountRepository) SetRole(_ context.Context, email string, role domain.Role) (domain.Account, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for id, a := range r.s.accounts {
		if a.Email == email {
			a.Role = role
			a.UpdatedAt = r.s.now().UTC()
			r.s.accounts[id] = a
			return cloneAccount(a), nil
		}
	}
	return domain.Account{}, domain.ErrAccountNotFound
}

func (r *AccountRepository) update(id uuid.UUID, fn func(*domain.Account)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	a, ok := r.s.accounts[id]
	if !ok {
		return domain.ErrAccountNotFound
	}
	fn(&a)
	r.s.accounts[id] = a
	return nil
}

func cloneAccount(a domain.Account) domain.Account {
	if a.PasswordHash != nil {
		h := *a.PasswordHash
		a.PasswordHash = &h
	}
	if a.RefreshTokenHash != nil {
		h := *a.RefreshTokenHash
		a.RefreshTokenHash = &h
	}
	if a.LastLogin != nil {
		t := *a.LastLogin
		a.LastLogin = &t
	}
	return a
}
