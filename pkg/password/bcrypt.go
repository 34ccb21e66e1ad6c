// Package password hashes credentials with bcrypt. Hashing is CPU bound, so the
// number of concurrent hash operations is capped and callers queue on a
// semaphore that honours context cancellation.
package password

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/semaphore"
)

var ErrMismatch = errors.New("password mismatch")

type Hasher struct {
	cost int
	sem  *semaphore.Weighted
}

func NewHasher(cost int) *Hasher {
	return NewHasherWithLimit(cost, int64(runtime.GOMAXPROCS(0)))
}

func NewHasherWithLimit(cost int, limit int64) *Hasher {
	if limit < 1 {
		limit = 1
	}
	return &Hasher{cost: cost, sem: semaphore.NewWeighted(limit)}
}

func (h *Hasher) Hash(ctx context.Context, pw string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	b, err := bcrypt.GenerateFromPassword([]byte(pw), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(b), nil
}

// Compare returns ErrMismatch when pw does not match hash.
func (h *Hasher) Compare(ctx context.Context, hash, pw string) error {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer h.sem.Release(1)

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pw))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrMismatch
	}
	return err
}
