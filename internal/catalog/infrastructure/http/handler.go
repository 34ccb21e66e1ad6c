package http

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	accountdomain "github.com/dmehra2102/sweet-shop/internal/account/domain"
	accounthttp "github.com/dmehra2102/sweet-shop/internal/account/infrastructure/http"
	"github.com/dmehra2102/sweet-shop/internal/catalog/application"
	"github.com/dmehra2102/sweet-shop/internal/catalog/domain"
	"github.com/dmehra2102/sweet-shop/pkg/apperr"
	"github.com/dmehra2102/sweet-shop/pkg/httpx"
	"github.com/dmehra2102/sweet-shop/pkg/idempotency"
	"github.com/dmehra2102/sweet-shop/pkg/paging"
)

type Handler struct {
	log          *slog.Logger
	service      *application.Service
	authenticate func(http.Handler) http.Handler
	idem         idempotency.Checker
	tracer       trace.Tracer
}

// NewHandler wires the /sweets routes. authenticate guards everything except
// the public reads.
func NewHandler(log *slog.Logger, service *application.Service, authenticate func(http.Handler) http.Handler, idem idempotency.Checker) *Handler {
	return &Handler{
		log:          log,
		service:      service,
		authenticate: authenticate,
		idem:         idem,
		tracer:       otel.Tracer("catalog-http"),
	}
}

type createReq struct {
	Name     string           `json:"name" validate:"required"`
	Category string           `json:"category" validate:"required"`
	Price    *decimal.Decimal `json:"price" validate:"required"`
	Quantity *int             `json:"quantity"`
}

type updateReq struct {
	Name     *string          `json:"name"`
	Category *string          `json:"category"`
	Price    *decimal.Decimal `json:"price"`
	Quantity *int             `json:"quantity"`
}

type quantityReq struct {
	Quantity *int `json:"quantity"`
}

type listResp struct {
	Sweets     []domain.Item `json:"sweets"`
	Pagination paging.Info   `json:"pagination"`
}

type purchaseResp struct {
	Sweet             domain.Item     `json:"sweet"`
	PurchasedQuantity int             `json:"purchasedQuantity"`
	TotalCost         decimal.Decimal `json:"totalCost"`
}

type restockResp struct {
	Sweet             domain.Item `json:"sweet"`
	RestockedQuantity int         `json:"restockedQuantity"`
	PreviousQuantity  int         `json:"previousQuantity"`
}

type deletedSweet struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/", h.list)
	r.Get("/search", h.search)
	r.Get("/{id}", h.get)

	r.Group(func(r chi.Router) {
		r.Use(h.authenticate)
		r.With(idempotency.Middleware(h.log, h.idem, "purchase", accounthttp.Subject)).
			Post("/{id}/purchase", h.purchase)

		r.Group(func(r chi.Router) {
			r.Use(accounthttp.RequireAdmin(h.log))
			r.Post("/", h.create)
			r.Patch("/{id}", h.update)
			r.Delete("/{id}", h.delete)
			r.Post("/{id}/restock", h.restock)
		})
	})
	return r
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.PageParams(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	res, err := h.service.List(r.Context(), p)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Sweets fetched successfully.", listResp{Sweets: res.Items, Pagination: res.Pagination})
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "SearchSweets")
	defer span.End()

	p, err := httpx.PageParams(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	in := application.SearchInput{Name: q.Get("name"), Category: q.Get("category")}
	if in.MinPrice, err = queryDecimal(r, "minPrice"); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	if in.MaxPrice, err = queryDecimal(r, "maxPrice"); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}

	res, err := h.service.Search(ctx, in, p)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Search completed successfully.", listResp{Sweets: res.Items, Pagination: res.Pagination})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := sweetID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	it, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Sweet fetched successfully.", map[string]any{"sweet": it})
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateSweet")
	defer span.End()

	var req createReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	in := application.CreateInput{Name: req.Name, Category: req.Category, Price: *req.Price}
	if req.Quantity != nil {
		in.Quantity = *req.Quantity
	}
	it, err := h.service.Create(ctx, caller(r), in)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "Sweet created successfully.", map[string]any{"sweet": it})
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateSweet")
	defer span.End()

	id, err := sweetID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	var req updateReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	it, err := h.service.Update(ctx, caller(r), id, application.UpdateInput{
		Name:     req.Name,
		Category: req.Category,
		Price:    req.Price,
		Quantity: req.Quantity,
	})
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Sweet updated successfully.", map[string]any{"sweet": it})
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := sweetID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	it, err := h.service.Delete(r.Context(), caller(r), id)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Sweet deleted successfully.",
		map[string]any{"deletedSweet": deletedSweet{ID: it.ID, Name: it.Name}})
}

func (h *Handler) purchase(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PurchaseSweet")
	defer span.End()

	id, err := sweetID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	var req quantityReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	qty := 1
	if req.Quantity != nil {
		qty = *req.Quantity
	}
	res, err := h.service.Purchase(ctx, caller(r), id, qty)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Purchase successful.", purchaseResp{
		Sweet:             res.Item,
		PurchasedQuantity: res.Quantity,
		TotalCost:         res.TotalCost,
	})
}

func (h *Handler) restock(w http.ResponseWriter, r *http.Request) {
	id, err := sweetID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	var req quantityReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	if req.Quantity == nil {
		httpx.Error(w, r, h.log, apperr.FieldValidation("quantity", "quantity is required"))
		return
	}
	res, err := h.service.Restock(r.Context(), caller(r), id, *req.Quantity)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Sweet restocked successfully.", restockResp{
		Sweet:             res.Item,
		RestockedQuantity: res.Quantity,
		PreviousQuantity:  res.PreviousQuantity,
	})
}

func caller(r *http.Request) accountdomain.Identity {
	id, _ := accounthttp.IdentityFrom(r.Context())
	return id
}

func sweetID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid sweet ID").Wrap(err)
	}
	return id, nil
}

func queryDecimal(r *http.Request, key string) (*decimal.Decimal, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, apperr.FieldValidation(key, key+" must be a number")
	}
	return &d, nil
}
