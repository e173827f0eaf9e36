package shopapi

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestClient(t *testing.T, handler http.Handler) *client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := newClient(config.ShopAPIConfig{
		BaseURL: srv.URL,
		Timeout: 2 * time.Second,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestVerifyIdentity(t *testing.T) {
	t.Run("verify endpoint", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
			_, _ = io.WriteString(w, `{"valid":true,"user":{"id":7}}`)
		})
		c := newTestClient(t, mux)

		id, err := c.VerifyIdentity(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "7", id.UserID)
	})

	t.Run("falls back to me", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/auth/verify", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		})
		mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
			_, _ = io.WriteString(w, `{"id":"u-9","email":"a@b.c"}`)
		})
		c := newTestClient(t, mux)

		id, err := c.VerifyIdentity(context.Background(), "tok")
		require.NoError(t, err)
		assert.Equal(t, "u-9", id.UserID)
	})

	t.Run("rejected credential", func(t *testing.T) {
		c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))

		_, err := c.VerifyIdentity(context.Background(), "tok")
		assert.ErrorIs(t, err, models.ErrUnauthorized)
	})
}

func TestGetActiveCart(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantID  string
		wantErr error
	}{
		{name: "ok", status: http.StatusOK, body: `{"id":12,"estado":"activo"}`, wantID: "12"},
		{name: "none", status: http.StatusNotFound, body: `{"detail":"no cart"}`, wantErr: models.ErrNotFound},
		{name: "unauthorized", status: http.StatusUnauthorized, wantErr: models.ErrUnauthorized},
		{name: "server error", status: http.StatusInternalServerError, wantErr: models.ErrTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/carritos/activo", r.URL.Path)
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))

			cart, err := c.GetActiveCart(context.Background(), "tok")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, cart.ID)
		})
	}
}

func TestGetCartLinesNormalizesFieldNames(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/carrito_items/carrito/12", r.URL.Path)
		_, _ = io.WriteString(w, `[
			{"id":"a","id_producto":"p1","cantidad":2,"precio_unitario":10.5,"variant_data":{"color":"rojo"}},
			{"id":"b","product_id":"p2","quantity":1,"price":"3.00","variant_data":null,"product_name":"Taza"},
			{"id":"c","product_id":"p3","quantity":0,"price":1},
			{"id":"d","product_id":"p4","quantity":1,"price":1,"variant_data":"{\"talla\":\"M\"}"}
		]`)
	}))

	lines, err := c.GetCartLines(context.Background(), "tok", "12")
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, models.LineID("a"), lines[0].LineID)
	assert.Equal(t, models.ProductID("p1"), lines[0].ProductID)
	assert.Equal(t, 2, lines[0].Quantity)
	assert.Equal(t, "10.50", lines[0].UnitPrice.StringFixed(2))
	assert.Equal(t, "rojo", lines[0].Variant["color"])

	assert.Equal(t, models.ProductID("p2"), lines[1].ProductID)
	assert.Nil(t, lines[1].Variant)
	require.NotNil(t, lines[1].Display)
	assert.Equal(t, "Taza", lines[1].Display.Name)

	assert.Equal(t, "M", lines[2].Variant["talla"])
}

func TestAddLineSendsSingleAttempt(t *testing.T) {
	hits := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/carrito_items/simple", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, "p1", gjson.GetBytes(body, "product_id").String())
		assert.Equal(t, int64(2), gjson.GetBytes(body, "quantity").Int())
		assert.Equal(t, gjson.Number, gjson.GetBytes(body, "price").Type)
		assert.Equal(t, 19.99, gjson.GetBytes(body, "price").Float())
		assert.Equal(t, "azul", gjson.GetBytes(body, "variant_data.color").String())
		w.WriteHeader(http.StatusBadGateway)
	}))
	c.http.SetRetryCount(3)

	err := c.AddLine(context.Background(), "tok", models.AddLineInput{
		ProductID: "p1",
		Quantity:  2,
		UnitPrice: decimal.RequireFromString("19.99"),
		Variant:   models.VariantSelection{"color": "azul"},
	})
	assert.ErrorIs(t, err, models.ErrTransient)
	assert.Equal(t, 1, hits)
}

func TestUpdateAndRemoveLine(t *testing.T) {
	var gotMethod, gotPath, gotBody string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod, gotPath = r.Method, r.URL.Path
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
	}))

	require.NoError(t, c.UpdateLineQuantity(context.Background(), "tok", "a1", 4))
	assert.Equal(t, http.MethodPut, gotMethod)
	assert.Equal(t, "/carrito_items/id/a1", gotPath)
	assert.JSONEq(t, `{"cantidad":4}`, gotBody)

	require.NoError(t, c.RemoveLine(context.Background(), "tok", "a1"))
	assert.Equal(t, http.MethodDelete, gotMethod)
	assert.Equal(t, "/carrito_items/id/a1", gotPath)
}

func TestValidationErrorCarriesDetail(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"detail":"stock insuficiente"}`)
	}))

	err := c.UpdateLineQuantity(context.Background(), "tok", "a1", 99)
	assert.ErrorIs(t, err, models.ErrValidation)
	assert.Contains(t, err.Error(), "stock insuficiente")
}

func TestGetProduct(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/productos/p1", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = io.WriteString(w, `{
			"nombre":"Remera","imagen_url":"/img/r.png","codigo":"R-1",
			"variants":[{"color":"rojo","tipo":"lisa","stock":0},{"color":"azul","tipo":"lisa","stock":3}]
		}`)
	}))

	p, err := c.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	assert.Equal(t, "Remera", p.Name)
	assert.Equal(t, "/img/r.png", p.ImageURL)
	assert.Equal(t, "R-1", p.Code)
	require.Len(t, p.Variants, 2)
	assert.Equal(t, "azul", p.DefaultVariant().Attributes["color"])
}

func TestRequestIDIsForwarded(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "req-1", r.Header.Get(requestIDHeader))
		_, _ = io.WriteString(w, `{"id":1}`)
	}))

	//lint:ignore SA1029 request id is stored under its header name
	ctx := context.WithValue(context.Background(), requestIDHeader, "req-1")
	_, err := c.GetActiveCart(ctx, "tok")
	require.NoError(t, err)
}
