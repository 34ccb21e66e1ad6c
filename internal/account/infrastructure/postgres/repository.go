package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmehra2102/sweet-shop/internal/account/domain"
	"github.com/dmehra2102/sweet-shop/pkg/pgstore"
)

const accountColumns = `id, full_name, email, password_hash, role, refresh_token_hash, last_login, created_at, updated_at`

type Repository struct {
	log *slog.Logger
	db  *pgstore.DB
}

func NewRepository(log *slog.Logger, db *pgstore.DB) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) Create(ctx context.Context, acc domain.Account) error {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		acc.ID, acc.FullName, acc.Email, acc.PasswordHash, string(acc.Role),
		acc.RefreshTokenHash, acc.LastLogin, acc.CreatedAt, acc.UpdatedAt)
	if pgstore.IsUniqueViolation(err, "accounts_email_key") {
		return domain.ErrEmailTaken
	}
	return pgstore.Classify(err)
}

func (r *Repository) FindByEmail(ctx context.Context, email string) (domain.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE lower(email) = lower($1)`, email)
}

func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (domain.Account, error) {
	return r.findOne(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id)
}

func (r *Repository) RecordLogin(ctx context.Context, id uuid.UUID, at time.Time, refreshHash string) error {
	return r.exec(ctx, `UPDATE accounts SET last_login = $2, refresh_token_hash = $3, updated_at = $2 WHERE id = $1`,
		id, at, refreshHash)
}

func (r *Repository) SetRefreshTokenHash(ctx context.Context, id uuid.UUID, hash *string) error {
	return r.exec(ctx, `UPDATE accounts SET refresh_token_hash = $2 WHERE id = $1`, id, hash)
}

func (r *Repository) SetRole(ctx context.Context, email string, role domain.Role) (domain.Account, error) {
	return r.findOne(ctx, `UPDATE accounts SET role = $2, updated_at = now()
		WHERE lower(email) = lower($1) RETURNING `+accountColumns, email, string(role))
}

func (r *Repository) exec(ctx context.Context, sql string, args ...any) error {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	ct, err := r.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return pgstore.Classify(err)
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrAccountNotFound
	}
	return nil
}

func (r *Repository) findOne(ctx context.Context, sql string, args ...any) (domain.Account, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	var (
		a    domain.Account
		role string
	)
	err := r.db.Pool.QueryRow(ctx, sql, args...).Scan(
		&a.ID, &a.FullName, &a.Email, &a.PasswordHash, &role,
		&a.RefreshTokenHash, &a.LastLogin, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	if err != nil {
		return domain.Account{}, pgstore.Classify(err)
	}
	a.Role, err = domain.ParseRole(role)
	if err != nil {
		r.log.ErrorContext(ctx, "account has unknown role", "account_id", a.ID, "role", role)
		return domain.Account{}, err
	}
	return a, nil
}
