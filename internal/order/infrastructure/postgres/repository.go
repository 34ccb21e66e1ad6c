package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	catalogdomain "github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	catalogpg "github.com/dmehra2102/sweet-shop/internal/catalog/infrastructure/postgres"
	"github.com/dmehra2102/sweet-shop/internal/order/application"
	"github.com/dmehra2102/sweet-shop/internal/order/domain"
	"github.com/dmehra2102/sweet-shop/pkg/outbox"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
	"github.com/dmehra2102/sweet-shop/pkg/pgstore"
)

const orderColumns = `id, account_id, total_amount::text, status, payment_status, payment_method,
	ship_street, ship_city, ship_state, ship_zip, ship_country, notes, created_at, updated_at`

type Repository struct {
	log *slog.Logger
	db  *pgstore.DB
}

func NewRepository(log *slog.Logger, db *pgstore.DB) *Repository {
	return &Repository{log: log, db: db}
}

func (r *Repository) ExecTx(ctx context.Context, fn func(ctx context.Context, tx application.Tx) error) error {
	return r.db.ExecTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &pgTx{tx: tx, now: time.Now})
	})
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	o, err := scanOrder(r.db.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, pgstore.Classify(err)
	}
	orders := []domain.Order{o}
	if err := loadLines(ctx, r.db.Pool, orders); err != nil {
		return domain.Order{}, pgstore.Classify(err)
	}
	return orders[0], nil
}

func (r *Repository) List(ctx context.Context, f domain.ListFilter, p paging.Page) ([]domain.Order, int, error) {
	ctx, cancel := r.db.Bound(ctx)
	defer cancel()

	where := ` WHERE ($1::uuid IS NULL OR account_id = $1) AND ($2::text IS NULL OR status = $2)`
	var status *string
	if f.Status != nil {
		s := string(*f.Status)
		status = &s
	}
	args := []any{f.AccountID, status}

	var total int
	if err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, pgstore.Classify(err)
	}

	rows, err := r.db.Pool.Query(ctx, `SELECT `+orderColumns+` FROM orders`+where+
		` ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`, append(args, p.Limit, p.Offset())...)
	if err != nil {
		return nil, 0, pgstore.Classify(err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.Order, error) {
		return scanOrder(row)
	})
	if err != nil {
		return nil, 0, pgstore.Classify(err)
	}
	if err := loadLines(ctx, r.db.Pool, orders); err != nil {
		return nil, 0, pgstore.Classify(err)
	}
	return orders, total, nil
}

type queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadLines fills the lines of every order with one round trip.
func loadLines(ctx context.Context, q queryer, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]uuid.UUID, len(orders))
	index := make(map[uuid.UUID]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := q.Query(ctx, `SELECT order_id, item_id, name, category, unit_price::text, quantity
		FROM order_lines WHERE order_id = ANY($1) ORDER BY order_id, line_no`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			orderID uuid.UUID
			l       domain.Line
			price   string
		)
		if err := rows.Scan(&orderID, &l.ItemID, &l.Name, &l.Category, &price, &l.Quantity); err != nil {
			return err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return fmt.Errorf("order %s line price %q: %w", orderID, price, err)
		}
		i := index[orderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	return rows.Err()
}

func scanOrder(row pgx.Row) (domain.Order, error) {
	var (
		o     domain.Order
		total string
	)
	err := row.Scan(&o.ID, &o.AccountID, &total, &o.Status, &o.PaymentStatus, &o.PaymentMethod,
		&o.Shipping.Street, &o.Shipping.City, &o.Shipping.State, &o.Shipping.ZipCode, &o.Shipping.Country,
		&o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return domain.Order{}, err
	}
	if o.TotalAmount, err = decimal.NewFromString(total); err != nil {
		return domain.Order{}, fmt.Errorf("order %s total %q: %w", o.ID, total, err)
	}
	return o, nil
}

type pgTx struct {
	tx  pgx.Tx
	now func() time.Time
}

// LockItems takes row locks in id order so concurrent orders over the same
// items cannot deadlock.
func (t *pgTx) LockItems(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]catalogdomain.Item, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+catalogpg.ItemColumns+` FROM items
		WHERE id = ANY($1) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[uuid.UUID]catalogdomain.Item, len(ids))
	for rows.Next() {
		it, err := catalogpg.ScanItem(rows)
		if err != nil {
			return nil, err
		}
		out[it.ID] = it
	}
	return out, rows.Err()
}

func (t *pgTx) ReserveStock(ctx context.Context, id uuid.UUID, qty int) (catalogdomain.Item, error) {
	return catalogpg.DecrementStock(ctx, t.tx, id, qty, t.now().UTC())
}

func (t *pgTx) ReleaseStock(ctx context.Context, id uuid.UUID, qty int) (bool, error) {
	ct, err := t.tx.Exec(ctx, `UPDATE items SET quantity = quantity + $2, updated_at = $3 WHERE id = $1`,
		id, qty, t.now().UTC())
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o domain.Order) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO orders (id, account_id, total_amount, status, payment_status, payment_method,
			ship_street, ship_city, ship_state, ship_zip, ship_country, notes, created_at, updated_at)
		VALUES ($1,$2,$3::numeric,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)`,
		o.ID, o.AccountID, o.TotalAmount.String(), string(o.Status), string(o.PaymentStatus), string(o.PaymentMethod),
		o.Shipping.Street, o.Shipping.City, o.Shipping.State, o.Shipping.ZipCode, o.Shipping.Country,
		o.Notes, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	for i, l := range o.Lines {
		batch.Queue(`INSERT INTO order_lines (order_id, line_no, item_id, name, category, unit_price, quantity)
			VALUES ($1,$2,$3,$4,$5,$6::numeric,$7)`,
			o.ID, i+1, l.ItemID, l.Name, l.Category, l.UnitPrice.String(), l.Quantity)
	}
	return t.tx.SendBatch(ctx, batch).Close()
}

func (t *pgTx) LockOrder(ctx context.Context, id uuid.UUID) (domain.Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	orders := []domain.Order{o}
	if err := loadLines(ctx, t.tx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

func (t *pgTx) SaveState(ctx context.Context, o domain.Order) error {
	ct, err := t.tx.Exec(ctx, `UPDATE orders SET status = $2, payment_status = $3, updated_at = $4 WHERE id = $1`,
		o.ID, string(o.Status), string(o.PaymentStatus), o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return domain.ErrOrderNotFound
	}
	return nil
}

func (t *pgTx) Enqueue(ctx context.Context, ev outbox.Event) error {
	return enqueue(ctx, t.tx, ev)
}

func enqueue(ctx context.Context, tx pgx.Tx, ev outbox.Event) error {
	headers := ev.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	_, err := tx.Exec(ctx, `INSERT INTO outbox (aggregate_type, aggregate_id, type, payload, headers, traceparent, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')`,
		ev.AggregateType, ev.AggregateID, ev.Type, ev.Payload, headers, ev.Traceparent)
	return err
}
