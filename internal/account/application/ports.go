package application

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmehra2102/sweet-shop/internal/account/domain"
	"github.com/dmehra2102/sweet-shop/pkg/token"
)

type AccountRepository interface {
	// Create fails with domain.ErrEmailTaken when the email is in use.
	Create(ctx context.Context, acc domain.Account) error
	FindByEmail(ctx context.Context, email string) (domain.Account, error)
	FindByID(ctx context.Context, id uuid.UUID) (domain.Account, error)
	// RecordLogin stamps lastLogin and replaces the stored refresh token hash.
	RecordLogin(ctx context.Context, id uuid.UUID, at time.Time, refreshHash string) error
	// SetRefreshTokenHash replaces the stored hash; nil clears it.
	SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash *string) error
	SetRole(ctx context.Context, email string, role domain.Role) (domain.Account, error)
}

type PasswordHasher interface {
	Hash(ctx context.Context, pw string) (string, error)
	Compare(ctx context.Context, hash, pw string) error
}

type TokenMaker interface {
	Issue(subject string, claims token.Claims) (string, *token.Claims, error)
	Verify(raw string) (*token.Claims, error)
	TTL() time.Duration
}
