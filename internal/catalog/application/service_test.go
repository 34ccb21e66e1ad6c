package application_test

import (
	"context"
	"io"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	account "github.com/dmehra2102/sweet-shop/internal/account/domain"
	"github.com/dmehra2102/sweet-shop/internal/catalog/application"
	"github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/internal/storage/memory"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type CatalogServiceSuite struct {
	suite.Suite
	ctx      context.Context
	svc      *application.Service
	admin    account.Identity
	customer account.Identity
}

func TestCatalogServiceSuite(t *testing.T) {
	suite.Run(t, new(CatalogServiceSuite))
}

func (s *CatalogServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.svc = application.NewService(discard, memory.New().Items())
	s.admin = account.Identity{AccountID: uuid.New(), Role: account.RoleAdmin}
	s.customer = account.Identity{AccountID: uuid.New(), Role: account.RoleCustomer}
}

func (s *CatalogServiceSuite) create(name, category, price string, qty int) uuid.UUID {
	it, err := s.svc.Create(s.ctx, s.admin, application.CreateInput{
		Name:     name,
		Category: category,
		Price:    decimal.RequireFromString(price),
		Quantity: qty,
	})
	s.Require().NoError(err)
	return it.ID
}

func page(n, limit int) paging.Page { return paging.Page{Number: n, Limit: limit} }

func (s *CatalogServiceSuite) TestCreateTrimsAndRejectsDuplicates() {
	id := s.create("  Kaju Katli ", " Barfi ", "45.50", 10)
	it, err := s.svc.Get(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("Kaju Katli", it.Name)
	s.Equal("Barfi", it.Category)

	_, err = s.svc.Create(s.ctx, s.admin, application.CreateInput{Name: "kaju katli", Category: "x", Price: decimal.NewFromInt(1)})
	e := apperr.As(err)
	s.Equal(apperr.KindConflict, e.Kind)
	s.Equal("A sweet with this name already exists", e.Message)
}

func (s *CatalogServiceSuite) TestCreateValidation() {
	bad := []application.CreateInput{
		{Name: "", Category: "c", Price: decimal.NewFromInt(1)},
		{Name: "n", Category: "", Price: decimal.NewFromInt(1)},
		{Name: "n", Category: "c", Price: decimal.NewFromInt(-1)},
		{Name: "n", Category: "c", Price: decimal.NewFromInt(1), Quantity: -2},
	}
	for _, in := range bad {
		_, err := s.svc.Create(s.ctx, s.admin, in)
		s.True(apperr.IsKind(err, apperr.KindValidation), "%+v", in)
	}
}

func (s *CatalogServiceSuite) TestAdminOnlyOperations() {
	id := s.create("Ladoo", "Classic", "10", 5)

	_, err := s.svc.Create(s.ctx, s.customer, application.CreateInput{Name: "x", Category: "y"})
	s.True(apperr.IsKind(err, apperr.KindAuthorization))
	name := "Besan Ladoo"
	_, err = s.svc.Update(s.ctx, s.customer, id, application.UpdateInput{Name: &name})
	s.True(apperr.IsKind(err, apperr.KindAuthorization))
	_, err = s.svc.Delete(s.ctx, s.customer, id)
	s.True(apperr.IsKind(err, apperr.KindAuthorization))
	_, err = s.svc.Restock(s.ctx, s.customer, id, 5)
	s.True(apperr.IsKind(err, apperr.KindAuthorization))
}

func (s *CatalogServiceSuite) TestUpdate() {
	id := s.create("Ladoo", "Classic", "10", 5)
	s.create("Peda", "Classic", "8", 5)

	price := decimal.RequireFromString("11.25")
	it, err := s.svc.Update(s.ctx, s.admin, id, application.UpdateInput{Price: &price})
	s.Require().NoError(err)
	s.True(it.Price.Equal(price))
	s.Equal("Ladoo", it.Name)

	dup := "PEDA"
	_, err = s.svc.Update(s.ctx, s.admin, id, application.UpdateInput{Name: &dup})
	s.True(apperr.IsKind(err, apperr.KindConflict))

	same := "ladoo"
	_, err = s.svc.Update(s.ctx, s.admin, id, application.UpdateInput{Name: &same})
	s.NoError(err, "renaming to itself with different case is allowed")

	_, err = s.svc.Update(s.ctx, s.admin, id, application.UpdateInput{})
	s.True(apperr.IsKind(err, apperr.KindValidation))

	_, err = s.svc.Update(s.ctx, s.admin, uuid.New(), application.UpdateInput{Price: &price})
	s.True(apperr.IsKind(err, apperr.KindNotFound))
}

func (s *CatalogServiceSuite) TestDelete() {
	id := s.create("Ladoo", "Classic", "10", 5)
	it, err := s.svc.Delete(s.ctx, s.admin, id)
	s.Require().NoError(err)
	s.Equal("Ladoo", it.Name)

	_, err = s.svc.Delete(s.ctx, s.admin, id)
	s.True(apperr.IsKind(err, apperr.KindNotFound))
}

func (s *CatalogServiceSuite) TestListPaginatesNewestFirst() {
	for _, n := range []string{"A", "B", "C"} {
		s.create(n, "Classic", "1", 1)
	}
	res, err := s.svc.List(s.ctx, page(1, 2))
	s.Require().NoError(err)
	s.Require().Len(res.Items, 2)
	s.Equal("C", res.Items[0].Name)
	s.Equal(paging.Info{CurrentPage: 1, TotalPages: 2, TotalCount: 3, HasNextPage: true}, res.Pagination)

	res, err = s.svc.List(s.ctx, page(5, 2))
	s.Require().NoError(err)
	s.NotNil(res.Items)
	s.Empty(res.Items)
}

func (s *CatalogServiceSuite) TestSearch() {
	s.create("Kaju Katli", "Barfi", "45", 1)
	s.create("Coconut Barfi", "Barfi", "20", 1)
	s.create("Rasgulla", "Bengali", "10", 1)

	res, err := s.svc.Search(s.ctx, application.SearchInput{Category: "barfi"}, page(1, 10))
	s.Require().NoError(err)
	s.Equal(2, res.Pagination.TotalCount)

	lo := decimal.NewFromInt(15)
	hi := decimal.NewFromInt(30)
	res, err = s.svc.Search(s.ctx, application.SearchInput{MinPrice: &lo, MaxPrice: &hi}, page(1, 10))
	s.Require().NoError(err)
	s.Require().Len(res.Items, 1)
	s.Equal("Coconut Barfi", res.Items[0].Name)

	res, err = s.svc.Search(s.ctx, application.SearchInput{Name: "KATLI"}, page(1, 10))
	s.Require().NoError(err)
	s.Len(res.Items, 1)
}

func (s *CatalogServiceSuite) TestSearchPriceRangeValidation() {
	lo := decimal.NewFromInt(50)
	hi := decimal.NewFromInt(10)
	_, err := s.svc.Search(s.ctx, application.SearchInput{MinPrice: &lo, MaxPrice: &hi}, page(1, 10))
	e := apperr.As(err)
	s.Equal(apperr.KindValidation, e.Kind)
	s.Equal("minPrice cannot be greater than maxPrice", e.Message)

	neg := decimal.NewFromInt(-1)
	_, err = s.svc.Search(s.ctx, application.SearchInput{MaxPrice: &neg}, page(1, 10))
	s.True(apperr.IsKind(err, apperr.KindValidation))
}

func (s *CatalogServiceSuite) TestPurchase() {
	id := s.create("Jalebi", "Fried", "2.50", 5)

	res, err := s.svc.Purchase(s.ctx, s.customer, id, 2)
	s.Require().NoError(err)
	s.Equal(3, res.Item.Quantity)
	s.Equal(2, res.Quantity)
	s.True(res.TotalCost.Equal(decimal.NewFromInt(5)))

	_, err = s.svc.Purchase(s.ctx, s.customer, id, 4)
	e := apperr.As(err)
	s.Equal(apperr.KindInsufficientStock, e.Kind)
	s.Equal(apperr.StockShortage{ItemID: id.String(), Available: 3}, e.Details)

	_, err = s.svc.Purchase(s.ctx, s.customer, id, 0)
	s.True(apperr.IsKind(err, apperr.KindValidation))
	_, err = s.svc.Purchase(s.ctx, s.customer, uuid.New(), 1)
	s.True(apperr.IsKind(err, apperr.KindNotFound))
}

func (s *CatalogServiceSuite) TestRestock() {
	id := s.create("Barfi", "Classic", "4", 2)

	res, err := s.svc.Restock(s.ctx, s.admin, id, 8)
	s.Require().NoError(err)
	s.Equal(10, res.Item.Quantity)
	s.Equal(2, res.PreviousQuantity)
	s.Equal(8, res.Quantity)

	_, err = s.svc.Restock(s.ctx, s.admin, id, 0)
	s.True(apperr.IsKind(err, apperr.KindValidation))
}

func (s *CatalogServiceSuite) TestQuantityCeiling() {
	_, err := s.svc.Create(s.ctx, s.admin, application.CreateInput{
		Name: "Soan Papdi", Category: "Flaky", Price: decimal.NewFromInt(1), Quantity: domain.MaxQuantity + 1,
	})
	s.True(apperr.IsKind(err, apperr.KindValidation), "create: %v", err)

	id := s.create("Gulab Jamun", "Syrup", "3", domain.MaxQuantity-5)

	_, err = s.svc.Purchase(s.ctx, s.customer, id, math.MaxInt)
	s.True(apperr.IsKind(err, apperr.KindValidation), "purchase: %v", err)
	_, err = s.svc.Restock(s.ctx, s.admin, id, math.MaxInt)
	s.True(apperr.IsKind(err, apperr.KindValidation), "huge restock: %v", err)

	_, err = s.svc.Restock(s.ctx, s.admin, id, 6)
	e := apperr.As(err)
	s.Equal(apperr.KindValidation, e.Kind, "restock past ceiling: %v", err)
	s.ErrorIs(err, domain.ErrStockLimit)

	res, err := s.svc.Restock(s.ctx, s.admin, id, 5)
	s.Require().NoError(err)
	s.Equal(domain.MaxQuantity, res.Item.Quantity)
}

func TestConcurrentPurchasesNeverOversell(t *testing.T) {
	ctx := context.Background()
	svc := application.NewService(discard, memory.New().Items())
	admin := account.Identity{AccountID: uuid.New(), Role: account.RoleAdmin}
	it, err := svc.Create(ctx, admin, application.CreateInput{Name: "Ghevar", Category: "Festive", Price: decimal.NewFromInt(3), Quantity: 10})
	require.NoError(t, err)

	var ok, short atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Purchase(ctx, account.Identity{AccountID: uuid.New()}, it.ID, 1)
			if err == nil {
				ok.Add(1)
			} else if apperr.IsKind(err, apperr.KindInsufficientStock) {
				short.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, ok.Load())
	assert.EqualValues(t, 15, short.Load())
	got, err := svc.Get(ctx, it.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Quantity)
}
