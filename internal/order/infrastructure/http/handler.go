package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	accountdomain "github.com/dmehra2102/sweet-shop/internal/account/domain"
	accounthttp "github.com/dmehra2102/sweet-shop/internal/account/infrastructure/http"
	"github.com/dmehra2102/sweet-shop/internal/order/application"
	"github.com/dmehra2102/sweet-shop/internal/order/domain"
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

func NewHandler(log *slog.Logger, service *application.Service, authenticate func(http.Handler) http.Handler, idem idempotency.Checker) *Handler {
	return &Handler{
		log:          log,
		service:      service,
		authenticate: authenticate,
		idem:         idem,
		tracer:       otel.Tracer("order-http"),
	}
}

type lineReq struct {
	SweetID  string `json:"sweetId" validate:"required"`
	Quantity int    `json:"quantity"`
}

type createOrderReq struct {
	Items           []lineReq              `json:"items" validate:"required,min=1,dive"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	PaymentMethod   string                 `json:"paymentMethod"`
	Notes           string                 `json:"notes"`
}

type statusReq struct {
	Status        *string `json:"status"`
	PaymentStatus *string `json:"paymentStatus"`
}

type orderView struct {
	ID              uuid.UUID              `json:"id"`
	OrderNumber     string                 `json:"orderNumber"`
	UserID          uuid.UUID              `json:"userId"`
	Items           []domain.Line          `json:"items"`
	TotalAmount     decimal.Decimal        `json:"totalAmount"`
	Status          domain.OrderStatus     `json:"status"`
	PaymentStatus   domain.PaymentStatus   `json:"paymentStatus"`
	PaymentMethod   domain.PaymentMethod   `json:"paymentMethod"`
	ShippingAddress domain.ShippingAddress `json:"shippingAddress"`
	Notes           string                 `json:"notes"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

func viewOf(o domain.Order) orderView {
	return orderView{
		ID:              o.ID,
		OrderNumber:     o.Number(),
		UserID:          o.AccountID,
		Items:           o.Lines,
		TotalAmount:     o.TotalAmount,
		Status:          o.Status,
		PaymentStatus:   o.PaymentStatus,
		PaymentMethod:   o.PaymentMethod,
		ShippingAddress: o.Shipping,
		Notes:           o.Notes,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func viewsOf(orders []domain.Order) []orderView {
	out := make([]orderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, viewOf(o))
	}
	return out
}

type myOrdersResp struct {
	Orders      []orderView `json:"orders"`
	TotalPages  int         `json:"totalPages"`
	CurrentPage int         `json:"currentPage"`
	TotalOrders int         `json:"totalOrders"`
}

type allOrdersResp struct {
	Orders     []orderView `json:"orders"`
	Pagination paging.Info `json:"pagination"`
}

// Routes mounts /orders. Every route requires a signed-in account.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.authenticate)

	r.With(idempotency.Middleware(h.log, h.idem, "order", accounthttp.Subject)).
		Post("/create", h.create)
	r.Get("/my-orders", h.myOrders)

	r.Group(func(r chi.Router) {
		r.Use(accounthttp.RequireAdmin(h.log))
		r.Get("/admin/all", h.allOrders)
		r.Patch("/admin/{orderId}/status", h.updateStatus)
	})

	r.Get("/{orderId}", h.get)
	r.Patch("/{orderId}/cancel", h.cancel)
	return r
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CreateOrder")
	defer span.End()

	var req createOrderReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	lines := make([]application.LineInput, 0, len(req.Items))
	for _, it := range req.Items {
		id, err := uuid.Parse(it.SweetID)
		if err != nil {
			httpx.Error(w, r, h.log, apperr.FieldValidation("items", "Each item must reference a valid sweet ID"))
			return
		}
		lines = append(lines, application.LineInput{ItemID: id, Quantity: it.Quantity})
	}

	o, err := h.service.Place(ctx, caller(r), application.PlaceInput{
		Lines:         lines,
		Shipping:      req.ShippingAddress,
		PaymentMethod: req.PaymentMethod,
		Notes:         req.Notes,
	})
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusCreated, "Order placed successfully", map[string]any{"order": viewOf(o)})
}

func (h *Handler) myOrders(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.PageParams(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	res, err := h.service.ListMine(r.Context(), caller(r), r.URL.Query().Get("status"), p)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Orders fetched successfully", myOrdersResp{
		Orders:      viewsOf(res.Orders),
		TotalPages:  paging.TotalPages(res.Total, res.Page.Limit),
		CurrentPage: res.Page.Number,
		TotalOrders: res.Total,
	})
}

func (h *Handler) allOrders(w http.ResponseWriter, r *http.Request) {
	p, err := httpx.PageParams(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	q := r.URL.Query()
	res, err := h.service.ListAll(r.Context(), caller(r), q.Get("status"), q.Get("userId"), p)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Orders fetched successfully", allOrdersResp{
		Orders:     viewsOf(res.Orders),
		Pagination: res.Page.Info(res.Total),
	})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	o, err := h.service.Get(r.Context(), caller(r), id)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Order fetched successfully", map[string]any{"order": viewOf(o)})
}

func (h *Handler) cancel(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CancelOrder")
	defer span.End()

	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	o, err := h.service.Cancel(ctx, caller(r), id)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Order cancelled successfully", map[string]any{"order": viewOf(o)})
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "UpdateOrderStatus")
	defer span.End()

	id, err := orderID(r)
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	var req statusReq
	if err := httpx.Decode(w, r, &req); err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	o, err := h.service.UpdateStatus(ctx, caller(r), id, application.StatusUpdate{
		Status:        req.Status,
		PaymentStatus: req.PaymentStatus,
	})
	if err != nil {
		httpx.Error(w, r, h.log, err)
		return
	}
	httpx.Success(w, http.StatusOK, "Order status updated successfully", map[string]any{"order": viewOf(o)})
}

func caller(r *http.Request) accountdomain.Identity {
	id, _ := accounthttp.IdentityFrom(r.Context())
	return id
}

func orderID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		return uuid.Nil, apperr.Validation("Invalid order ID").Wrap(err)
	}
	return id, nil
}
