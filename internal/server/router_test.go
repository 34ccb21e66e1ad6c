package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	accountapp "github.com/dmehra2102/sweet-shop/internal/account/application"
	accountdomain "github.com/dmehra2102/sweet-shop/internal/account/domain"
	accounthttp "github.com/dmehra2102/sweet-shop/internal/account/infrastructure/http"
	catalogapp "github.com/dmehra2102/sweet-shop/internal/catalog/application"
	orderapp "github.com/dmehra2102/sweet-shop/internal/order/application"
	"github.com/dmehra2102/sweet-shop/internal/storage/memory"
	"github.com/dmehra2102/sweet-shop/pkg/health"
	"github.com/dmehra2102/sweet-shop/pkg/idempotency"
	"github.com/dmehra2102/sweet-shop/pkg/password"
	"github.com/dmehra2102/sweet-shop/pkg/token"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type RouterSuite struct {
	suite.Suite
	store   *memory.Store
	handler http.Handler
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.store = memory.New()
	access := token.NewMaker("access-secret-access-secret-0123", "sweet-shop-api", "sweet-shop-client", 15*time.Minute)
	refresh := token.NewMaker("refresh-secret-refresh-secret-01", "sweet-shop-api", "sweet-shop-client", time.Hour)

	s.handler = NewRouter(Deps{
		Log:         discard,
		Accounts:    accountapp.NewService(discard, s.store.Accounts(), password.NewHasherWithLimit(bcrypt.MinCost, 4), access, refresh),
		Catalog:     catalogapp.NewService(discard, s.store.Items()),
		Orders:      orderapp.NewService(discard, s.store.Orders()),
		Idempotency: idempotency.NewLocalStore(time.Minute),
		Cookies:     accounthttp.CookieOptions{AccessMaxAge: 15 * time.Minute, RefreshMaxAge: 240 * time.Hour},
		CORSOrigins: []string{"http://localhost:5173"},
		Health:      map[string]health.Pinger{"store": s.store},
	})
}

type response struct {
	code    int
	body    map[string]any
	cookies map[string]*http.Cookie
}

func (r response) data() map[string]any {
	d, _ := r.body["data"].(map[string]any)
	return d
}

// do sends a request. tok, when set, is sent as a bearer token.
func (s *RouterSuite) do(method, path string, body any, tok string, headers ...string) response {
	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		s.Require().NoError(err)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	res := response{code: rec.Code, body: map[string]any{}, cookies: map[string]*http.Cookie{}}
	if rec.Body.Len() > 0 {
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &res.body), rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		res.cookies[c.Name] = c
	}
	return res
}

func (s *RouterSuite) signup(name, email string) response {
	res := s.do(http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"fullName": name, "email": email, "password": "Abcd123!",
	}, "")
	s.Require().Equal(http.StatusCreated, res.code, res.body)
	return res
}

// customer signs up and returns the access token.
func (s *RouterSuite) customer(email string) string {
	return s.signup("Test Customer", email).cookies[accounthttp.AccessCookie].Value
}

func (s *RouterSuite) admin() string {
	s.signup("Shop Admin", "admin@sweets.test")
	_, err := s.store.Accounts().SetRole(context.Background(), "admin@sweets.test", accountdomain.RoleAdmin)
	s.Require().NoError(err)
	res := s.do(http.MethodPost, "/api/v1/auth/login", map[string]string{
		"email": "admin@sweets.test", "password": "Abcd123!",
	}, "")
	s.Require().Equal(http.StatusOK, res.code)
	return res.cookies[accounthttp.AccessCookie].Value
}

func (s *RouterSuite) createSweet(adminTok, name, price string, qty int) string {
	res := s.do(http.MethodPost, "/api/v1/sweets", map[string]any{
		"name": name, "category": "Barfi", "price": price, "quantity": qty,
	}, adminTok)
	s.Require().Equal(http.StatusCreated, res.code, res.body)
	return res.data()["sweet"].(map[string]any)["id"].(string)
}

func (s *RouterSuite) stock(id string) float64 {
	res := s.do(http.MethodGet, "/api/v1/sweets/"+id, nil, "")
	s.Require().Equal(http.StatusOK, res.code)
	return res.data()["sweet"].(map[string]any)["quantity"].(float64)
}

func (s *RouterSuite) TestSignupSetsCookiesAndHidesCredentials() {
	res := s.signup("Asha Rao", "Asha@Example.com")

	s.Equal("User registered successfully.", res.body["message"])
	user := res.body["user"].(map[string]any)
	s.Equal("asha@example.com", user["email"])
	s.Equal("customer", user["role"])
	s.NotContains(user, "passwordHash")
	s.NotContains(user, "refreshToken")

	access := res.cookies[accounthttp.AccessCookie]
	s.Require().NotNil(access)
	s.True(access.HttpOnly)
	s.Equal(http.SameSiteStrictMode, access.SameSite)
	s.Equal(int((15 * time.Minute).Seconds()), access.MaxAge)
	s.Require().NotNil(res.cookies[accounthttp.RefreshCookie])
}

func (s *RouterSuite) TestSignupRejectsWeakPasswordAndDuplicates() {
	res := s.do(http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"fullName": "Asha Rao", "email": "asha@example.com", "password": "abcdefgh",
	}, "")
	s.Equal(http.StatusBadRequest, res.code)
	s.Equal(false, res.body["success"])

	s.signup("Asha Rao", "asha@example.com")
	res = s.do(http.MethodPost, "/api/v1/auth/signup", map[string]string{
		"fullName": "Asha Again", "email": "ASHA@example.com", "password": "Abcd123!",
	}, "")
	s.Equal(http.StatusConflict, res.code)
	s.Equal("User with this email already exists", res.body["message"])
}

func (s *RouterSuite) TestLoginRefreshLogout() {
	s.signup("Asha Rao", "asha@example.com")

	res := s.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "asha@example.com", "password": "wrong-Pass1!"}, "")
	s.Equal(http.StatusUnauthorized, res.code)
	s.Equal("Invalid email or password", res.body["message"])

	login := s.do(http.MethodPost, "/api/v1/auth/login", map[string]string{"email": "asha@example.com", "password": "Abcd123!"}, "")
	s.Require().Equal(http.StatusOK, login.code)
	s.NotNil(login.body["user"].(map[string]any)["lastLogin"])
	tok := login.cookies[accounthttp.AccessCookie].Value
	refreshTok := login.cookies[accounthttp.RefreshCookie].Value

	profile := s.do(http.MethodGet, "/api/v1/auth/profile", nil, tok)
	s.Equal(http.StatusOK, profile.code)
	s.Equal("Profile fetched successfully.", profile.body["message"])

	refreshed := s.do(http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": refreshTok}, "")
	s.Equal(http.StatusOK, refreshed.code)
	s.NotEmpty(refreshed.cookies[accounthttp.AccessCookie].Value)

	out := s.do(http.MethodPost, "/api/v1/auth/logout", nil, tok)
	s.Equal(http.StatusOK, out.code)
	s.Equal(-1, out.cookies[accounthttp.AccessCookie].MaxAge)

	again := s.do(http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": refreshTok}, "")
	s.Equal(http.StatusUnauthorized, again.code)
}

func (s *RouterSuite) TestLogoutWithOnlyRefreshCookie() {
	res := s.signup("Ravi Kumar", "ravi@example.com")
	refreshTok := res.cookies[accounthttp.RefreshCookie].Value

	out := s.do(http.MethodPost, "/api/v1/auth/logout", nil, "expired-or-missing",
		"Cookie", accounthttp.RefreshCookie+"="+refreshTok)
	s.Require().Equal(http.StatusOK, out.code, out.body)
	s.Equal(-1, out.cookies[accounthttp.RefreshCookie].MaxAge)

	again := s.do(http.MethodPost, "/api/v1/auth/refresh-token", map[string]string{"refreshToken": refreshTok}, "")
	s.Equal(http.StatusUnauthorized, again.code)

	anon := s.do(http.MethodPost, "/api/v1/auth/logout", nil, "")
	s.Equal(http.StatusOK, anon.code)
}

func (s *RouterSuite) TestProtectedRoutesNeedToken() {
	res := s.do(http.MethodGet, "/api/v1/auth/profile", nil, "")
	s.Equal(http.StatusUnauthorized, res.code)

	res = s.do(http.MethodGet, "/api/v1/orders/my-orders", nil, "not-a-token")
	s.Equal(http.StatusUnauthorized, res.code)
}

func (s *RouterSuite) TestUnknownRouteAndHealth() {
	res := s.do(http.MethodGet, "/api/v1/nope", nil, "")
	s.Equal(http.StatusNotFound, res.code)
	s.Equal("Route not found", res.body["message"])

	res = s.do(http.MethodGet, "/healthz", nil, "")
	s.Equal(http.StatusOK, res.code)
	s.Equal("ok", res.body["status"])
}

func (s *RouterSuite) TestCatalogAdminOperations() {
	adminTok := s.admin()
	custTok := s.customer("c@sweets.test")

	res := s.do(http.MethodPost, "/api/v1/sweets", map[string]any{"name": "Ladoo", "category": "Classic", "price": "10"}, custTok)
	s.Equal(http.StatusForbidden, res.code)

	id := s.createSweet(adminTok, "Kaju Katli", "120.50", 10)

	res = s.do(http.MethodPost, "/api/v1/sweets", map[string]any{"name": "kaju katli", "category": "Barfi", "price": "1"}, adminTok)
	s.Equal(http.StatusConflict, res.code)

	res = s.do(http.MethodPatch, "/api/v1/sweets/"+id, map[string]any{"price": "130"}, adminTok)
	s.Require().Equal(http.StatusOK, res.code)
	s.Equal("Sweet updated successfully.", res.body["message"])
	s.Equal("130", res.data()["sweet"].(map[string]any)["price"])

	res = s.do(http.MethodPost, "/api/v1/sweets/"+id+"/restock", map[string]any{"quantity": 5}, adminTok)
	s.Require().Equal(http.StatusOK, res.code)
	s.Equal(float64(10), res.data()["previousQuantity"])
	s.Equal(float64(5), res.data()["restockedQuantity"])

	res = s.do(http.MethodGet, "/api/v1/sweets/not-a-uuid", nil, "")
	s.Equal(http.StatusBadRequest, res.code)
	s.Equal("Invalid sweet ID", res.body["message"])

	res = s.do(http.MethodDelete, "/api/v1/sweets/"+id, nil, adminTok)
	s.Require().Equal(http.StatusOK, res.code)
	s.Equal("Kaju Katli", res.data()["deletedSweet"].(map[string]any)["name"])

	res = s.do(http.MethodGet, "/api/v1/sweets/"+id, nil, "")
	s.Equal(http.StatusNotFound, res.code)
}

func (s *RouterSuite) TestListAndSearch() {
	adminTok := s.admin()
	s.createSweet(adminTok, "Rasgulla", "15", 10)
	s.createSweet(adminTok, "Gulab Jamun", "20", 10)
	s.createSweet(adminTok, "Kaju Katli", "80", 10)

	res := s.do(http.MethodGet, "/api/v1/sweets?page=1&limit=2", nil, "")
	s.Require().Equal(http.StatusOK, res.code)
	s.Len(res.data()["sweets"], 2)
	pag := res.data()["pagination"].(map[string]any)
	s.Equal(float64(3), pag["totalCount"])
	s.Equal(float64(2), pag["totalPages"])
	s.Equal(true, pag["hasNextPage"])

	res = s.do(http.MethodGet, "/api/v1/sweets/search?name=gul&maxPrice=50", nil, "")
	s.Require().Equal(http.StatusOK, res.code)
	s.Len(res.data()["sweets"], 2)

	res = s.do(http.MethodGet, "/api/v1/sweets/search?minPrice=50&maxPrice=10", nil, "")
	s.Equal(http.StatusBadRequest, res.code)
	s.Equal("minPrice cannot be greater than maxPrice", res.body["message"])
}

func (s *RouterSuite) TestPurchaseWithIdempotencyKey() {
	adminTok := s.admin()
	custTok := s.customer("c@sweets.test")
	id := s.createSweet(adminTok, "Peda", "25", 3)

	res := s.do(http.MethodPost, "/api/v1/sweets/"+id+"/purchase", map[string]any{"quantity": 2}, custTok, idempotency.Header, "k-1")
	s.Require().Equal(http.StatusOK, res.code, res.body)
	s.Equal("50", res.data()["totalCost"])
	s.Equal(float64(2), res.data()["purchasedQuantity"])

	res = s.do(http.MethodPost, "/api/v1/sweets/"+id+"/purchase", map[string]any{"quantity": 2}, custTok, idempotency.Header, "k-1")
	s.Equal(http.StatusConflict, res.code)
	s.Equal("Duplicate request", res.body["message"])

	res = s.do(http.MethodPost, "/api/v1/sweets/"+id+"/purchase", map[string]any{"quantity": 2}, custTok, idempotency.Header, "k-2")
	s.Equal(http.StatusBadRequest, res.code)
	s.Equal(float64(1), res.body["errors"].(map[string]any)["available"])
	s.Equal(float64(1), s.stock(id))
}

func (s *RouterSuite) TestPurchaseRetryAfterShortageReusesKey() {
	adminTok := s.admin()
	custTok := s.customer("c@sweets.test")
	id := s.createSweet(adminTok, "Rasgulla", "10", 1)
	buy := func() response {
		return s.do(http.MethodPost, "/api/v1/sweets/"+id+"/purchase", map[string]any{"quantity": 3}, custTok, idempotency.Header, "k-retry")
	}

	res := buy()
	s.Require().Equal(http.StatusBadRequest, res.code, res.body)

	restock := s.do(http.MethodPost, "/api/v1/sweets/"+id+"/restock", map[string]any{"quantity": 5}, adminTok)
	s.Require().Equal(http.StatusOK, restock.code, restock.body)

	res = buy()
	s.Require().Equal(http.StatusOK, res.code, res.body)
	s.Equal(float64(3), s.stock(id))

	res = buy()
	s.Equal(http.StatusConflict, res.code)
	s.Equal(float64(3), s.stock(id))
}

func (s *RouterSuite) TestOrderLifecycle() {
	adminTok := s.admin()
	custTok := s.customer("c@sweets.test")
	otherTok := s.customer("d@sweets.test")
	a := s.createSweet(adminTok, "Barfi", "40", 5)
	b := s.createSweet(adminTok, "Jalebi", "30", 0)

	address := map[string]string{"street": "1 Main St", "city": "Pune", "state": "MH", "zipCode": "411001"}

	res := s.do(http.MethodPost, "/api/v1/orders/create", map[string]any{
		"items":           []map[string]any{{"sweetId": a, "quantity": 3}, {"sweetId": b, "quantity": 1}},
		"shippingAddress": address,
	}, custTok)
	s.Equal(http.StatusBadRequest, res.code)
	s.Equal(b, res.body["errors"].(map[string]any)["itemId"])
	s.Equal(float64(5), s.stock(a))

	res = s.do(http.MethodPost, "/api/v1/orders/create", map[string]any{
		"items":           []map[string]any{{"sweetId": a, "quantity": 2}, {"sweetId": a, "quantity": 1}},
		"shippingAddress": address,
		"notes":           "ring twice",
	}, custTok)
	s.Require().Equal(http.StatusCreated, res.code, res.body)
	order := res.data()["order"].(map[string]any)
	orderID := order["id"].(string)
	s.Equal("120", order["totalAmount"])
	s.Equal("pending", order["status"])
	s.Equal("cash_on_delivery", order["paymentMethod"])
	s.Equal("India", order["shippingAddress"].(map[string]any)["country"])
	s.Len(order["items"], 1)
	s.Regexp(`^ORD-[0-9A-F]{8}$`, order["orderNumber"])
	s.Equal(float64(2), s.stock(a))

	res = s.do(http.MethodGet, "/api/v1/orders/my-orders", nil, custTok)
	s.Require().Equal(http.StatusOK, res.code)
	s.Equal(float64(1), res.data()["totalOrders"])
	s.Equal(float64(1), res.data()["currentPage"])

	res = s.do(http.MethodGet, "/api/v1/orders/"+orderID, nil, otherTok)
	s.Equal(http.StatusForbidden, res.code)

	res = s.do(http.MethodGet, "/api/v1/orders/admin/all", nil, custTok)
	s.Equal(http.StatusForbidden, res.code)

	res = s.do(http.MethodPatch, "/api/v1/orders/admin/"+orderID+"/status", map[string]string{"status": "shipped"}, adminTok)
	s.Equal(http.StatusBadRequest, res.code)

	res = s.do(http.MethodPatch, "/api/v1/orders/admin/"+orderID+"/status", map[string]string{"status": "confirmed", "paymentStatus": "paid"}, adminTok)
	s.Require().Equal(http.StatusOK, res.code, res.body)
	s.Equal("confirmed", res.data()["order"].(map[string]any)["status"])
	s.Equal("paid", res.data()["order"].(map[string]any)["paymentStatus"])

	res = s.do(http.MethodPatch, "/api/v1/orders/"+orderID+"/cancel", nil, custTok)
	s.Require().Equal(http.StatusOK, res.code)
	s.Equal("Order cancelled successfully", res.body["message"])
	s.Equal(float64(5), s.stock(a))

	res = s.do(http.MethodPatch, "/api/v1/orders/"+orderID+"/cancel", nil, custTok)
	s.Equal(http.StatusBadRequest, res.code)
	s.Equal(float64(5), s.stock(a))

	res = s.do(http.MethodGet, "/api/v1/orders/admin/all?status=cancelled", nil, adminTok)
	s.Require().Equal(http.StatusOK, res.code)
	s.Equal(float64(1), res.data()["pagination"].(map[string]any)["totalCount"])
}

func (s *RouterSuite) TestOrderRejectsMalformedInput() {
	custTok := s.customer("c@sweets.test")

	res := s.do(http.MethodPost, "/api/v1/orders/create", map[string]any{"items": []any{}}, custTok)
	s.Equal(http.StatusBadRequest, res.code)

	res = s.do(http.MethodPost, "/api/v1/orders/create", map[string]any{
		"items":           []map[string]any{{"sweetId": "nope", "quantity": 1}},
		"shippingAddress": map[string]string{"street": "x", "city": "y", "state": "z", "zipCode": "1"},
	}, custTok)
	s.Equal(http.StatusBadRequest, res.code)

	res = s.do(http.MethodGet, "/api/v1/orders/not-an-id", nil, custTok)
	s.Equal(http.StatusBadRequest, res.code)
	s.Equal("Invalid order ID", res.body["message"])
}
