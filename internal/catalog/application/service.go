package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	accountdomain "github.com/dmehra2102/sweet-shop/internal/account/domain"
	"github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

type Service struct {
	log    *slog.Logger
	repo   ItemRepository
	tracer trace.Tracer
	now    func() time.Time
}

func NewService(log *slog.Logger, repo ItemRepository) *Service {
	return &Service{log: log, repo: repo, tracer: otel.Tracer("catalog-service"), now: time.Now}
}

type CreateInput struct {
	Name     string
	Category string
	Price    decimal.Decimal
	Quantity int
}

type UpdateInput struct {
	Name     *string
	Category *string
	Price    *decimal.Decimal
	Quantity *int
}

type SearchInput struct {
	Name     string
	Category string
	MinPrice *decimal.Decimal
	MaxPrice *decimal.Decimal
}

type ListResult struct {
	Items      []domain.Item
	Pagination paging.Info
}

type PurchaseResult struct {
	Item      domain.Item
	Quantity  int
	TotalCost decimal.Decimal
}

type RestockResult struct {
	Item             domain.Item
	Quantity         int
	PreviousQuantity int
}

func (s *Service) Create(ctx context.Context, caller accountdomain.Identity, in CreateInput) (domain.Item, error) {
	if err := requireAdmin(caller); err != nil {
		return domain.Item{}, err
	}
	d := domain.Draft{
		Name:     domain.CleanName(in.Name),
		Category: domain.CleanName(in.Category),
		Price:    in.Price,
		Quantity: in.Quantity,
	}
	if err := validateDraft(d); err != nil {
		return domain.Item{}, err
	}

	it := domain.NewItem(uuid.New(), d, s.now().UTC())
	if err := s.repo.Create(ctx, it); err != nil {
		return domain.Item{}, mapRepoErr(err, "create sweet")
	}
	s.log.InfoContext(ctx, "sweet created", "item_id", it.ID, "name", it.Name, "by", caller.AccountID)
	return it, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (domain.Item, error) {
	it, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Item{}, mapRepoErr(err, "get sweet")
	}
	return it, nil
}

func (s *Service) List(ctx context.Context, p paging.Page) (ListResult, error) {
	return s.list(ctx, domain.Filter{}, p)
}

func (s *Service) Search(ctx context.Context, in SearchInput, p paging.Page) (ListResult, error) {
	if in.MinPrice != nil && in.MinPrice.IsNegative() {
		return ListResult{}, apperr.FieldValidation("minPrice", "minPrice cannot be negative")
	}
	if in.MaxPrice != nil && in.MaxPrice.IsNegative() {
		return ListResult{}, apperr.FieldValidation("maxPrice", "maxPrice cannot be negative")
	}
	if in.MinPrice != nil && in.MaxPrice != nil && in.MinPrice.GreaterThan(*in.MaxPrice) {
		return ListResult{}, apperr.FieldValidation("minPrice", "minPrice cannot be greater than maxPrice")
	}
	f := domain.Filter{
		Name:     strings.TrimSpace(in.Name),
		Category: strings.TrimSpace(in.Category),
		MinPrice: in.MinPrice,
		MaxPrice: in.MaxPrice,
	}
	return s.list(ctx, f, p)
}

func (s *Service) list(ctx context.Context, f domain.Filter, p paging.Page) (ListResult, error) {
	items, total, err := s.repo.List(ctx, f, p)
	if err != nil {
		return ListResult{}, mapRepoErr(err, "list sweets")
	}
	if items == nil {
		items = []domain.Item{}
	}
	return ListResult{Items: items, Pagination: p.Info(total)}, nil
}

func (s *Service) Update(ctx context.Context, caller accountdomain.Identity, id uuid.UUID, in UpdateInput) (domain.Item, error) {
	if err := requireAdmin(caller); err != nil {
		return domain.Item{}, err
	}
	patch := domain.Patch{Price: in.Price, Quantity: in.Quantity}
	if in.Name != nil {
		name := domain.CleanName(*in.Name)
		if msg := domain.NameViolation(name); msg != "" {
			return domain.Item{}, apperr.FieldValidation("name", msg)
		}
		patch.Name = &name
	}
	if in.Category != nil {
		cat := domain.CleanName(*in.Category)
		if msg := domain.CategoryViolation(cat); msg != "" {
			return domain.Item{}, apperr.FieldValidation("category", msg)
		}
		patch.Category = &cat
	}
	if in.Price != nil {
		if msg := domain.PriceViolation(*in.Price); msg != "" {
			return domain.Item{}, apperr.FieldValidation("price", msg)
		}
	}
	if in.Quantity != nil {
		if msg := domain.QuantityViolation(*in.Quantity); msg != "" {
			return domain.Item{}, apperr.FieldValidation("quantity", msg)
		}
	}
	if patch.Empty() {
		return domain.Item{}, apperr.Validation("At least one field must be provided for update")
	}

	it, err := s.repo.Update(ctx, id, patch, s.now().UTC())
	if err != nil {
		return domain.Item{}, mapRepoErr(err, "update sweet")
	}
	s.log.InfoContext(ctx, "sweet updated", "item_id", id, "by", caller.AccountID)
	return it, nil
}

func (s *Service) Delete(ctx context.Context, caller accountdomain.Identity, id uuid.UUID) (domain.Item, error) {
	if err := requireAdmin(caller); err != nil {
		return domain.Item{}, err
	}
	it, err := s.repo.Delete(ctx, id)
	if err != nil {
		return domain.Item{}, mapRepoErr(err, "delete sweet")
	}
	s.log.InfoContext(ctx, "sweet deleted", "item_id", id, "by", caller.AccountID)
	return it, nil
}

// Purchase buys qty of a single item outside the order flow.
func (s *Service) Purchase(ctx context.Context, caller accountdomain.Identity, id uuid.UUID, qty int) (PurchaseResult, error) {
	ctx, span := s.tracer.Start(ctx, "Purchase", trace.WithAttributes(
		attribute.String("item.id", id.String()),
		attribute.Int("item.quantity", qty),
	))
	defer span.End()

	if msg := domain.MovementViolation(qty); msg != "" {
		return PurchaseResult{}, apperr.FieldValidation("quantity", msg)
	}
	it, err := s.repo.Decrement(ctx, id, qty, s.now().UTC())
	if err != nil {
		return PurchaseResult{}, mapRepoErr(err, "purchase sweet")
	}
	total := it.Price.Mul(decimal.NewFromInt(int64(qty)))
	s.log.InfoContext(ctx, "sweet purchased", "item_id", id, "quantity", qty, "account_id", caller.AccountID)
	return PurchaseResult{Item: it, Quantity: qty, TotalCost: total}, nil
}

func (s *Service) Restock(ctx context.Context, caller accountdomain.Identity, id uuid.UUID, qty int) (RestockResult, error) {
	if err := requireAdmin(caller); err != nil {
		return RestockResult{}, err
	}
	if msg := domain.MovementViolation(qty); msg != "" {
		return RestockResult{}, apperr.FieldValidation("quantity", msg)
	}
	it, err := s.repo.Increment(ctx, id, qty, s.now().UTC())
	if err != nil {
		return RestockResult{}, mapRepoErr(err, "restock sweet")
	}
	s.log.InfoContext(ctx, "sweet restocked", "item_id", id, "quantity", qty, "by", caller.AccountID)
	return RestockResult{Item: it, Quantity: qty, PreviousQuantity: it.Quantity - qty}, nil
}

func validateDraft(d domain.Draft) error {
	if msg := domain.NameViolation(d.Name); msg != "" {
		return apperr.FieldValidation("name", msg)
	}
	if msg := domain.CategoryViolation(d.Category); msg != "" {
		return apperr.FieldValidation("category", msg)
	}
	if msg := domain.PriceViolation(d.Price); msg != "" {
		return apperr.FieldValidation("price", msg)
	}
	if msg := domain.QuantityViolation(d.Quantity); msg != "" {
		return apperr.FieldValidation("quantity", msg)
	}
	return nil
}

func requireAdmin(caller accountdomain.Identity) error {
	if !caller.IsAdmin() {
		return apperr.Forbidden("Access denied. Admin privileges required.")
	}
	return nil
}

func mapRepoErr(err error, op string) error {
	var shortage *domain.ShortageError
	switch {
	case errors.Is(err, domain.ErrItemNotFound):
		return apperr.NotFound("Sweet not found").WithCode("ITEM_NOT_FOUND").Wrap(err)
	case errors.Is(err, domain.ErrNameTaken):
		return apperr.Conflict("A sweet with this name already exists").Wrap(err)
	case errors.Is(err, domain.ErrStockLimit):
		return apperr.FieldValidation("quantity", fmt.Sprintf("Stock cannot exceed %d", domain.MaxQuantity)).Wrap(err)
	case errors.As(err, &shortage):
		return apperr.InsufficientStock(shortage.ItemID.String(), shortage.Available).Wrap(err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
