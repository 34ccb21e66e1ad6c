package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmehra2102/sweet-shop/pkg/apperr"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type signupBody struct {
	FullName string `json:"fullName" validate:"required,min=2"`
	Email    string `json:"email" validate:"required,email"`
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestSuccessEnvelope(t *testing.T) {
	rec := httptest.NewRecorder()
	Success(rec, http.StatusCreated, "Sweet created successfully.", map[string]string{"id": "1"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "Sweet created successfully.", body["message"])
	assert.Equal(t, map[string]any{"id": "1"}, body["data"])
	assert.NotContains(t, body, "user")
}

func TestErrorEnvelopeHidesInternalCause(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	Error(rec, req, discard, errors.New("pq: password authentication failed"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Internal server error", body["message"])
	assert.NotContains(t, rec.Body.String(), "password authentication")
}

func TestErrorEnvelopeInsufficientStock(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/orders/create", nil)
	Error(rec, req, discard, apperr.InsufficientStock("item-b", 0))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, map[string]any{"itemId": "item-b", "available": float64(0)}, body["errors"])
}

func TestErrorUnavailableSetsRetryAfter(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	Error(rec, req, discard, apperr.Unavailable(errors.New("timeout")))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestDecodeValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fullName":"A","email":"nope"}`))
	var body signupBody
	err := Decode(httptest.NewRecorder(), req, &body)

	e := apperr.As(err)
	require.Equal(t, apperr.KindValidation, e.Kind)
	assert.Equal(t, "fullName must be at least 2 characters", e.Message)
	fields := e.Details.([]apperr.FieldError)
	require.Len(t, fields, 2)
	assert.Equal(t, "email", fields[1].Field)
}

func TestDecodeRejectsBadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"fullName":`))
	var body signupBody
	err := Decode(httptest.NewRecorder(), req, &body)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestDecodeEmptyBodyUsesZeroValue(t *testing.T) {
	type purchase struct {
		Quantity *int `json:"quantity" validate:"omitempty,gt=0"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	var body purchase
	require.NoError(t, Decode(httptest.NewRecorder(), req, &body))
	assert.Nil(t, body.Quantity)
}

func TestQueryInt(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/?page=3&limit=abc", nil)

	page, err := QueryInt(req, "page", 1)
	require.NoError(t, err)
	assert.Equal(t, 3, page)

	def, err := QueryInt(req, "missing", 10)
	require.NoError(t, err)
	assert.Equal(t, 10, def)

	_, err = QueryInt(req, "limit", 10)
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestPageParams(t *testing.T) {
	p, err := PageParams(httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, 10, p.Limit)

	p, err = PageParams(httptest.NewRequest(http.MethodGet, "/?page=2&limit=25", nil))
	require.NoError(t, err)
	assert.Equal(t, 25, p.Offset())

	_, err = PageParams(httptest.NewRequest(http.MethodGet, "/?limit=500", nil))
	assert.True(t, apperr.IsKind(err, apperr.KindValidation))
}

func TestRecovererRendersEnvelope(t *testing.T) {
	h := Recoverer(discard)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("nil map")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal server error", decodeBody(t, rec)["message"])
}

func TestRequestLoggerRecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestLogger(log)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/brew", nil))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, float64(http.StatusTeapot), line["status"])
	assert.Equal(t, "/brew", line["path"])
	assert.Equal(t, "WARN", line["level"])
}
