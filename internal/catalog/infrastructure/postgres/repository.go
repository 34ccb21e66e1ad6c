package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
	"github.com/dmehra2102/sweet-shop/pkg/pgstore"
)

// ItemColumns selects an item in the order ScanItem expects. Prices travel as
// text so no precision is lost between NUMERIC and decimal.Decimal.
const ItemColumns = `id, name, category, price::text, quantity, created_at, updated_at`

const nameKey = "items_name_key"

type Repository struct {
	log *slog.Logger
	db  *pgstore.DB
}

func NewRepository(log *slog.Logger, db *pgstore.DB) *Repository {
	return &Repository{log: log, db: db}
}

func ScanItem(row pgx.Row) (domain.Item, error) {
	var (
		it    domain.Item
		price string
	)
	if err := row.Scan(&it.ID, &it.Name, &it.Category, &price, &it.Quantity, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return domain.Item{}, err
	}
	p, err := decimal.NewFromString(price)
	if err != nil {
		return domain.Item{}, fmt.Errorf("item %s price %q: %w", it.ID, price, err)
	}
	it.Price = p
	return it, nil
}

func (r *Repository) Create(ctx context.Context, it domain.Item) error {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	_, err := r.db.Pool.Exec(ctx, `INSERT INTO items (id, name, category, price, quantity, created_at, updated_at)
		VALUES ($1,$2,$3,$4::numeric,$5,$6,$7)`,
		it.ID, it.Name, it.Category, it.Price.String(), it.Quantity, it.CreatedAt, it.UpdatedAt)
	if pgstore.IsUniqueViolation(err, nameKey) {
		return domain.ErrNameTaken
	}
	return pgstore.Classify(err)
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	return r.one(r.db.Pool.QueryRow(ctx, `SELECT `+ItemColumns+` FROM items WHERE id = $1`, id))
}

func (r *Repository) List(ctx context.Context, f domain.Filter, p paging.Page) ([]domain.Item, int, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	where, args := filterClause(f)

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM items`+where, args...).Scan(&total); err != nil {
		return nil, 0, pgstore.Classify(err)
	}

	args = append(args, p.Limit, p.Offset())
	rows, err := r.db.Pool.Query(ctx, fmt.Sprintf(`SELECT %s FROM items%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		ItemColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, pgstore.Classify(err)
	}
	defer rows.Close()

	items := make([]domain.Item, 0, p.Limit)
	for rows.Next() {
		it, err := ScanItem(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, pgstore.Classify(err)
	}
	return items, total, nil
}

func (r *Repository) Update(ctx context.Context, id uuid.UUID, patch domain.Patch, at time.Time) (domain.Item, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	sets := []string{"updated_at = $2"}
	args := []any{id, at}
	add := func(col string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Category != nil {
		add("category", *patch.Category)
	}
	if patch.Price != nil {
		args = append(args, patch.Price.String())
		sets = append(sets, fmt.Sprintf("price = $%d::numeric", len(args)))
	}
	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}

	row := r.db.Pool.QueryRow(ctx, `UPDATE items SET `+strings.Join(sets, ", ")+` WHERE id = $1 RETURNING `+ItemColumns, args...)
	it, err := r.one(row)
	if pgstore.IsUniqueViolation(err, nameKey) {
		return domain.Item{}, domain.ErrNameTaken
	}
	return it, err
}

func (r *Repository) Delete(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	return r.one(r.db.Pool.QueryRow(ctx, `DELETE FROM items WHERE id = $1 RETURNING `+ItemColumns, id))
}

// Decrement is a single conditional update; concurrent buyers serialise on
// the row lock and re-check the predicate.
func (r *Repository) Decrement(ctx context.Context, id uuid.UUID, qty int, at time.Time) (domain.Item, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	it, err := DecrementStock(ctx, r.db.Pool, id, qty, at)
	return it, pgstore.Classify(err)
}

func (r *Repository) Increment(ctx context.Context, id uuid.UUID, qty int, at time.Time) (domain.Item, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	it, err := ScanItem(r.db.Pool.QueryRow(ctx, `UPDATE items SET quantity = quantity + $2, updated_at = $3
		WHERE id = $1 AND quantity <= $4 - $2 RETURNING `+ItemColumns, id, qty, at, domain.MaxQuantity))
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, pgstore.Classify(err)
	}

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM items WHERE id = $1)`, id).Scan(&exists); err != nil {
		return domain.Item{}, pgstore.Classify(err)
	}
	if !exists {
		return domain.Item{}, domain.ErrItemNotFound
	}
	return domain.Item{}, domain.ErrStockLimit
}

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DecrementStock removes qty from the item only if at least qty is on hand.
func DecrementStock(ctx context.Context, q Querier, id uuid.UUID, qty int, at time.Time) (domain.Item, error) {
	it, err := ScanItem(q.QueryRow(ctx, `UPDATE items SET quantity = quantity - $2, updated_at = $3
		WHERE id = $1 AND quantity >= $2 RETURNING `+ItemColumns, id, qty, at))
	if err == nil {
		return it, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, err
	}

	var available int
	err = q.QueryRow(ctx, `SELECT quantity FROM items WHERE id = $1`, id).Scan(&available)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, err
	}
	return domain.Item{}, &domain.ShortageError{ItemID: id, Requested: qty, Available: available}
}

func (r *Repository) one(row pgx.Row) (domain.Item, error) {
	it, err := ScanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Item{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.Item{}, pgstore.Classify(err)
	}
	return it, nil
}

func filterClause(f domain.Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Name != "" {
		args = append(args, likePattern(f.Name))
		conds = append(conds, fmt.Sprintf(`name ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if f.Category != "" {
		args = append(args, likePattern(f.Category))
		conds = append(conds, fmt.Sprintf(`category ILIKE $%d ESCAPE '\'`, len(args)))
	}
	if f.MinPrice != nil {
		args = append(args, f.MinPrice.String())
		conds = append(conds, fmt.Sprintf(`price >= $%d::numeric`, len(args)))
	}
	if f.MaxPrice != nil {
		args = append(args, f.MaxPrice.String())
		conds = append(conds, fmt.Sprintf(`price <= $%d::numeric`, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
