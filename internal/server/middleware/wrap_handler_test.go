package middleware

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

type nopLogger struct{}

func (nopLogger) Debugw(string, ...interface{}) {}
func (nopLogger) Infow(string, ...interface{})  {}
func (nopLogger) Warnw(string, ...interface{})  {}
func (nopLogger) Errorw(string, ...interface{}) {}

type addRequest struct {
	SessionID string                  `ctx:"session_id" validate:"required"`
	ProductID string                  `json:"product_id" validate:"required"`
	Quantity  int                     `json:"quantity" validate:"min=1"`
	Price     decimal.Decimal         `json:"price" validate:"gte=0"`
	Variant   models.VariantSelection `json:"variant_data" validate:"omitempty,variant"`
}

func newTestEcho() *echo.Echo {
	e := echo.New()
	e.Validator = NewValidator()
	e.HTTPErrorHandler = ErrorHandler(nopLogger{})
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(SessionIDKey, "sid")
			return next(c)
		}
	})
	return e
}

func doJSON(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestWrapHandlerEnvelope(t *testing.T) {
	e := newTestEcho()
	e.POST("/lines", WrapHandler(func(c echo.Context, req addRequest) (any, error) {
		return map[string]any{"session": req.SessionID, "total": req.Price.Mul(decimal.NewFromInt(int64(req.Quantity))).StringFixed(2)}, nil
	}))

	rec := doJSON(e, http.MethodPost, "/lines", `{"product_id":"p1","quantity":2,"price":10.5,"variant_data":{"color":"rojo"}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := gjson.Parse(rec.Body.String())
	assert.True(t, body.Get("success").Bool())
	assert.Equal(t, "sid", body.Get("data.session").String())
	assert.Equal(t, "21.00", body.Get("data.total").String())
}

func TestWrapHandlerValidation(t *testing.T) {
	e := newTestEcho()
	e.POST("/lines", WrapHandler(func(c echo.Context, req addRequest) (any, error) {
		return nil, nil
	}))

	tests := []struct {
		name string
		body string
	}{
		{"missing product", `{"quantity":1,"price":1}`},
		{"zero quantity", `{"product_id":"p1","quantity":0,"price":1}`},
		{"negative price", `{"product_id":"p1","quantity":1,"price":-1}`},
		{"nested variant", `{"product_id":"p1","quantity":1,"price":1,"variant_data":{"color":{"a":1}}}`},
		{"empty variant key", `{"product_id":"p1","quantity":1,"price":1,"variant_data":{"":"x"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(e, http.MethodPost, "/lines", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.False(t, gjson.Get(rec.Body.String(), "success").Bool())
		})
	}
}

func TestWrapHandlerResults(t *testing.T) {
	type empty struct{}
	e := newTestEcho()
	e.GET("/html", WrapHandler(func(c echo.Context, _ empty) (HTML, error) {
		return HTML("<p>hi</p>"), nil
	}))
	e.DELETE("/nothing", WrapHandler(func(c echo.Context, _ empty) error {
		return nil
	}))

	rec := doJSON(e, http.MethodGet, "/html", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<p>hi</p>", rec.Body.String())
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "text/html")

	rec = doJSON(e, http.MethodDelete, "/nothing", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestErrorHandlerMapsDomainErrors(t *testing.T) {
	type empty struct{}
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("line x: %w", models.ErrNotFound), http.StatusNotFound, "NotFound"},
		{fmt.Errorf("reconcile: %w", models.ErrUnauthorized), http.StatusUnauthorized, "Unauthenticated"},
		{models.ErrOperationInFlight, http.StatusConflict, "Aborted"},
		{fmt.Errorf("add: %w", models.ErrValidation), http.StatusBadRequest, "InvalidArgument"},
		{fmt.Errorf("lines: %w", models.ErrTransient), http.StatusBadGateway, "Unavailable"},
		{fmt.Errorf("boom"), http.StatusInternalServerError, "Unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			e := newTestEcho()
			e.GET("/fail", WrapHandler(func(c echo.Context, _ empty) (any, error) {
				return nil, tt.err
			}))
			rec := doJSON(e, http.MethodGet, "/fail", "")
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, gjson.Get(rec.Body.String(), "error_code").String())
		})
	}

	t.Run("unknown route", func(t *testing.T) {
		rec := doJSON(newTestEcho(), http.MethodGet, "/missing", "")
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "no route matched", gjson.Get(rec.Body.String(), "error_message").String())
	})
}
