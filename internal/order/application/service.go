package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	account "github.com/dmehra2102/sweet-shop/internal/account/domain"
	catalog "github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/internal/order/domain"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/outbox"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
	"github.com/dmehra2102/sweet-shop/pkg/tracing"
)

type Service struct {
	log    *slog.Logger
	store  Store
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store, tracer: otel.Tracer("order-service"), now: time.Now}
}

type LineInput struct {
	ItemID   uuid.UUID
	Quantity int
}

type PlaceInput struct {
	Lines         []LineInput
	Shipping      domain.ShippingAddress
	PaymentMethod string
	Notes         string
}

type ListResult struct {
	Orders []domain.Order
	Page   paging.Page
	Total  int
}

type StatusUpdate struct {
	Status        *string
	PaymentStatus *string
}

// Place reserves stock for every line and creates the order, or creates
// nothing. The first unsatisfiable line is reported.
func (s *Service) Place(ctx context.Context, caller account.Identity, in PlaceInput) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "PlaceOrder", trace.WithAttributes(
		attribute.String("account.id", caller.AccountID.String()),
		attribute.Int("order.lines", len(in.Lines)),
	))
	defer span.End()

	lines, shipping, method, notes, err := validatePlace(in)
	if err != nil {
		return domain.Order{}, err
	}

	var placed domain.Order
	err = s.store.ExecTx(ctx, func(ctx context.Context, tx Tx) error {
		ids := make([]uuid.UUID, 0, len(lines))
		for _, l := range lines {
			ids = append(ids, l.ItemID)
		}
		items, err := tx.LockItems(ctx, ids)
		if err != nil {
			return err
		}
		for _, l := range lines {
			if _, ok := items[l.ItemID]; !ok {
				return apperr.NotFound("Sweet not found").
					WithCode("ITEM_NOT_FOUND").
					WithDetails(map[string]string{"itemId": l.ItemID.String()}).
					Wrap(catalog.ErrItemNotFound)
			}
		}

		orderLines := make([]domain.Line, 0, len(lines))
		for _, l := range lines {
			it, err := tx.ReserveStock(ctx, l.ItemID, l.Quantity)
			if err != nil {
				var shortage *catalog.ShortageError
				if errors.As(err, &shortage) {
					return apperr.InsufficientStock(shortage.ItemID.String(), shortage.Available).Wrap(err)
				}
				return err
			}
			orderLines = append(orderLines, domain.Line{
				ItemID:    it.ID,
				Name:      it.Name,
				Category:  it.Category,
				UnitPrice: it.Price,
				Quantity:  l.Quantity,
			})
		}

		o := domain.NewOrder(uuid.New(), caller.AccountID, orderLines, shipping, method, notes, s.now().UTC())
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		ev, err := outbox.NewEvent(domain.AggregateType, o.ID.String(), domain.EventPlaced, domain.OrderPlaced{
			OrderID:     o.ID.String(),
			OrderNumber: o.Number(),
			AccountID:   o.AccountID.String(),
			TotalAmount: o.TotalAmount.StringFixed(2),
			Lines:       o.Lines,
			PlacedAt:    o.CreatedAt,
		}, tracing.Traceparent(ctx))
		if err != nil {
			return err
		}
		if err := tx.Enqueue(ctx, ev); err != nil {
			return err
		}
		placed = o
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Order{}, wrap(err, "place order")
	}

	span.SetAttributes(attribute.String("order.id", placed.ID.String()))
	s.log.InfoContext(ctx, "order placed",
		"order_id", placed.ID,
		"account_id", caller.AccountID,
		"total", placed.TotalAmount.StringFixed(2),
	)
	return placed, nil
}

// Get returns the order when caller owns it or is an admin.
func (s *Service) Get(ctx context.Context, caller account.Identity, id uuid.UUID) (domain.Order, error) {
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return domain.Order{}, wrap(err, "get order")
	}
	if !caller.CanAccess(o.AccountID) {
		return domain.Order{}, forbidden()
	}
	return o, nil
}

func (s *Service) ListMine(ctx context.Context, caller account.Identity, status string, p paging.Page) (ListResult, error) {
	f := domain.ListFilter{AccountID: &caller.AccountID}
	if err := applyStatusFilter(&f, status); err != nil {
		return ListResult{}, err
	}
	return s.list(ctx, f, p)
}

func (s *Service) ListAll(ctx context.Context, caller account.Identity, status, accountID string, p paging.Page) (ListResult, error) {
	if !caller.IsAdmin() {
		return ListResult{}, apperr.Forbidden("Access denied. Admin privileges required.")
	}
	f := domain.ListFilter{}
	if err := applyStatusFilter(&f, status); err != nil {
		return ListResult{}, err
	}
	if accountID = strings.TrimSpace(accountID); accountID != "" {
		id, err := uuid.Parse(accountID)
		if err != nil {
			return ListResult{}, apperr.FieldValidation("userId", "Invalid user ID")
		}
		f.AccountID = &id
	}
	return s.list(ctx, f, p)
}

func (s *Service) list(ctx context.Context, f domain.ListFilter, p paging.Page) (ListResult, error) {
	orders, total, err := s.store.List(ctx, f, p)
	if err != nil {
		return ListResult{}, wrap(err, "list orders")
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	return ListResult{Orders: orders, Page: p, Total: total}, nil
}

// Cancel moves a pending or confirmed order to cancelled and puts its stock
// back in the same transaction.
func (s *Service) Cancel(ctx context.Context, caller account.Identity, id uuid.UUID) (domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "CancelOrder", trace.WithAttributes(attribute.String("order.id", id.String())))
	defer span.End()

	var cancelled domain.Order
	err := s.store.ExecTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if !caller.CanAccess(o.AccountID) {
			return forbidden()
		}
		if !o.Status.Cancellable() {
			return apperr.InvalidState(fmt.Sprintf("Order cannot be cancelled. Current status: %s", o.Status)).
				Wrap(domain.ErrInvalidTransition)
		}
		if err := s.cancelInTx(ctx, tx, &o, caller); err != nil {
			return err
		}
		cancelled = o
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return domain.Order{}, wrap(err, "cancel order")
	}
	s.log.InfoContext(ctx, "order cancelled", "order_id", id, "by", caller.AccountID)
	return cancelled, nil
}

// UpdateStatus is the admin back office operation. Moving to cancelled
// restocks exactly like an owner cancel.
func (s *Service) UpdateStatus(ctx context.Context, caller account.Identity, id uuid.UUID, in StatusUpdate) (domain.Order, error) {
	if !caller.IsAdmin() {
		return domain.Order{}, apperr.Forbidden("Access denied. Admin privileges required.")
	}
	if in.Status == nil && in.PaymentStatus == nil {
		return domain.Order{}, apperr.Validation("Either status or paymentStatus must be provided")
	}

	var (
		to   *domain.OrderStatus
		paid *domain.PaymentStatus
	)
	if in.Status != nil {
		st, err := domain.ParseStatus(*in.Status)
		if err != nil {
			return domain.Order{}, apperr.FieldValidation("status", "Status must be one of: pending, confirmed, processing, shipped, delivered, cancelled").Wrap(err)
		}
		to = &st
	}
	if in.PaymentStatus != nil {
		ps, err := domain.ParsePaymentStatus(*in.PaymentStatus)
		if err != nil {
			return domain.Order{}, apperr.FieldValidation("paymentStatus", "Payment status must be one of: pending, paid, failed, refunded").Wrap(err)
		}
		paid = &ps
	}

	var updated domain.Order
	err := s.store.ExecTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if to != nil && *to != o.Status {
			if !o.Status.CanTransition(*to) {
				return apperr.InvalidState(fmt.Sprintf("Cannot change order status from %s to %s", o.Status, *to)).
					Wrap(domain.ErrInvalidTransition)
			}
			if *to == domain.StatusCancelled {
				if err := s.cancelInTx(ctx, tx, &o, caller); err != nil {
					return err
				}
			} else if err := s.transitionInTx(ctx, tx, &o, *to); err != nil {
				return err
			}
		}
		if paid != nil && *paid != o.PaymentStatus {
			if err := s.setPaymentInTx(ctx, tx, &o, *paid); err != nil {
				return err
			}
		}
		updated = o
		return nil
	})
	if err != nil {
		return domain.Order{}, wrap(err, "update order status")
	}
	s.log.InfoContext(ctx, "order status updated",
		"order_id", id,
		"status", updated.Status,
		"payment_status", updated.PaymentStatus,
		"by", caller.AccountID,
	)
	return updated, nil
}

// ApplyPaymentResult records a payment provider outcome for an order.
func (s *Service) ApplyPaymentResult(ctx context.Context, res domain.PaymentResult) error {
	id, err := uuid.Parse(res.OrderID)
	if err != nil {
		return apperr.FieldValidation("orderId", "Invalid order ID").Wrap(err)
	}
	ps, err := domain.ParsePaymentStatus(res.Status)
	if err != nil {
		return apperr.FieldValidation("status", "Invalid payment status").Wrap(err)
	}
	err = s.store.ExecTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, id)
		if err != nil {
			return err
		}
		if o.PaymentStatus == ps {
			return nil
		}
		return s.setPaymentInTx(ctx, tx, &o, ps)
	})
	if err != nil {
		return wrap(err, "apply payment result")
	}
	s.log.InfoContext(ctx, "payment result applied", "order_id", id, "payment_status", ps, "reference", res.Reference)
	return nil
}

func (s *Service) cancelInTx(ctx context.Context, tx Tx, o *domain.Order, caller account.Identity) error {
	from := o.Status
	if err := o.TransitionTo(domain.StatusCancelled, s.now().UTC()); err != nil {
		return apperr.InvalidState(fmt.Sprintf("Order cannot be cancelled. Current status: %s", from)).Wrap(err)
	}
	restocked := make([]domain.Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		ok, err := tx.ReleaseStock(ctx, l.ItemID, l.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			s.log.WarnContext(ctx, "restock skipped, item deleted", "order_id", o.ID, "item_id", l.ItemID)
			continue
		}
		restocked = append(restocked, l)
	}
	if err := tx.SaveState(ctx, *o); err != nil {
		return err
	}
	ev, err := outbox.NewEvent(domain.AggregateType, o.ID.String(), domain.EventCancelled, domain.OrderCancelled{
		OrderID:     o.ID.String(),
		AccountID:   o.AccountID.String(),
		CancelledBy: caller.AccountID.String(),
		Restocked:   restocked,
		CancelledAt: o.UpdatedAt,
	}, tracing.Traceparent(ctx))
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, ev)
}

func (s *Service) transitionInTx(ctx context.Context, tx Tx, o *domain.Order, to domain.OrderStatus) error {
	from := o.Status
	if err := o.TransitionTo(to, s.now().UTC()); err != nil {
		return apperr.InvalidState(fmt.Sprintf("Cannot change order status from %s to %s", from, to)).Wrap(err)
	}
	if err := tx.SaveState(ctx, *o); err != nil {
		return err
	}
	ev, err := outbox.NewEvent(domain.AggregateType, o.ID.String(), domain.EventStatusChanged, domain.StatusChanged{
		OrderID:   o.ID.String(),
		From:      from,
		To:        to,
		ChangedAt: o.UpdatedAt,
	}, tracing.Traceparent(ctx))
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, ev)
}

func (s *Service) setPaymentInTx(ctx context.Context, tx Tx, o *domain.Order, ps domain.PaymentStatus) error {
	from := o.PaymentStatus
	o.SetPaymentStatus(ps, s.now().UTC())
	if err := tx.SaveState(ctx, *o); err != nil {
		return err
	}
	ev, err := outbox.NewEvent(domain.AggregateType, o.ID.String(), domain.EventPaymentStatusChanged, domain.PaymentStatusChanged{
		OrderID:   o.ID.String(),
		From:      from,
		To:        ps,
		ChangedAt: o.UpdatedAt,
	}, tracing.Traceparent(ctx))
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, ev)
}

// validatePlace checks the request and merges lines that name the same item,
// keeping first-seen order.
func validatePlace(in PlaceInput) ([]LineInput, domain.ShippingAddress, domain.PaymentMethod, string, error) {
	fail := func(err error) ([]LineInput, domain.ShippingAddress, domain.PaymentMethod, string, error) {
		return nil, domain.ShippingAddress{}, "", "", err
	}
	if len(in.Lines) == 0 {
		return fail(apperr.FieldValidation("items", "Order must contain at least one item"))
	}

	merged := make([]LineInput, 0, len(in.Lines))
	for _, l := range in.Lines {
		if l.ItemID == uuid.Nil {
			return fail(apperr.FieldValidation("items", "Each item must reference a valid sweet ID"))
		}
		if l.Quantity < 1 {
			return fail(apperr.FieldValidation("items", "Quantity must be at least 1"))
		}
		if l.Quantity > catalog.MaxQuantity {
			return fail(apperr.FieldValidation("items", fmt.Sprintf("Quantity cannot exceed %d", catalog.MaxQuantity)))
		}
		if i := slices.IndexFunc(merged, func(m LineInput) bool { return m.ItemID == l.ItemID }); i >= 0 {
			// Both addends are bounded, so the sum cannot wrap.
			merged[i].Quantity += l.Quantity
			continue
		}
		merged = append(merged, l)
	}
	for _, m := range merged {
		if msg := catalog.MovementViolation(m.Quantity); msg != "" {
			return fail(apperr.FieldValidation("items", msg))
		}
	}
	if len(merged) > domain.MaxLines {
		return fail(apperr.FieldValidation("items", fmt.Sprintf("Order cannot contain more than %d different items", domain.MaxLines)))
	}

	shipping := in.Shipping.Normalize()
	if field := shipping.MissingField(); field != "" {
		return fail(apperr.FieldValidation("shippingAddress."+field, field+" is required"))
	}
	method, err := domain.ParsePaymentMethod(strings.TrimSpace(in.PaymentMethod))
	if err != nil {
		return fail(apperr.FieldValidation("paymentMethod", "Payment method must be one of: cash_on_delivery, online_payment, card").Wrap(err))
	}
	notes := strings.TrimSpace(in.Notes)
	if msg := domain.NotesViolation(notes); msg != "" {
		return fail(apperr.FieldValidation("notes", msg))
	}
	return merged, shipping, method, notes, nil
}

func applyStatusFilter(f *domain.ListFilter, status string) error {
	status = strings.TrimSpace(status)
	if status == "" {
		return nil
	}
	st, err := domain.ParseStatus(status)
	if err != nil {
		return apperr.FieldValidation("status", "Invalid status filter").Wrap(err)
	}
	f.Status = &st
	return nil
}

func forbidden() error {
	return apperr.Forbidden("Access denied. You can only access your own orders.")
}

func wrap(err error, op string) error {
	if errors.Is(err, domain.ErrOrderNotFound) && !apperr.IsKind(err, apperr.KindNotFound) {
		return apperr.NotFound("Order not found").Wrap(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
