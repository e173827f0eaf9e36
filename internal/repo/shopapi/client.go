package shopapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	httpclient "github.com/carousell/ct-go/pkg/httpclient"
	"github.com/go-resty/resty/v2"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const requestIDHeader = "x-request-id"

// Client talks to the shop backend on behalf of one storefront session.
// Every call carrying a token authenticates as that token's owner.
type Client interface {
	VerifyIdentity(ctx context.Context, token string) (*models.Identity, error)
	GetActiveCart(ctx context.Context, token string) (*models.ActiveCart, error)
	GetCartLines(ctx context.Context, token, cartID string) ([]models.CartLine, error)
	AddLine(ctx context.Context, token string, in models.AddLineInput) error
	UpdateLineQuantity(ctx context.Context, token string, lineID models.LineID, quantity int) error
	RemoveLine(ctx context.Context, token string, lineID models.LineID) error
	GetProduct(ctx context.Context, productID models.ProductID) (*models.Product, error)
}

type client struct {
	http    *resty.Client
	metrics *prometheus.HistogramVec
}

func NewClient(conf *config.Config) (Client, error) {
	return newClient(conf.ShopAPI, otelhttp.NewTransport(http.DefaultTransport))
}

func newClient(conf config.ShopAPIConfig, transport http.RoundTripper) (*client, error) {
	if conf.BaseURL == "" {
		return nil, fmt.Errorf("shop api base url is required")
	}
	metrics, err := util.GetHistogramVec("shop_api_requests", "op", "code")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}

	httpClient := util.NewRestyClient(util.RestyOptions{
		Timeout:    conf.Timeout,
		RetryCount: conf.ReadRetries,
		Transport:  transport,
	}).
		SetBaseURL(conf.BaseURL).
		SetHeader("Accept", "application/json")

	return &client{
		http:    httpClient,
		metrics: metrics,
	}, nil
}

func (c *client) VerifyIdentity(ctx context.Context, token string) (*models.Identity, error) {
	resp, err := c.execute(ctx, "verify", token, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/auth/verify")
	})
	if err == nil {
		body := gjson.ParseBytes(resp.Body())
		if id := body.Get("user.id").String(); body.Get("valid").Bool() && id != "" {
			return &models.Identity{UserID: id}, nil
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	// /auth/verify is optional on some deployments; /auth/me is authoritative.
	resp, err = c.execute(ctx, "me", token, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/auth/me")
	})
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(resp.Body(), "id").String()
	if id == "" {
		return nil, fmt.Errorf("me: %w: response without id", models.ErrNotFound)
	}
	return &models.Identity{UserID: id}, nil
}

func (c *client) GetActiveCart(ctx context.Context, token string) (*models.ActiveCart, error) {
	resp, err := c.execute(ctx, "active_cart", token, func(r *resty.Request) (*resty.Response, error) {
		return r.Get("/carritos/activo")
	})
	if err != nil {
		return nil, err
	}
	id := firstOf(gjson.ParseBytes(resp.Body()), "id", "_id").String()
	if id == "" {
		return nil, fmt.Errorf("active_cart: %w: response without id", models.ErrTransient)
	}
	return &models.ActiveCart{ID: id}, nil
}

func (c *client) GetCartLines(ctx context.Context, token, cartID string) ([]models.CartLine, error) {
	resp, err := c.execute(ctx, "cart_lines", token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("cart_id", cartID).Get("/carrito_items/carrito/{cart_id}")
	})
	if err != nil {
		return nil, err
	}
	return parseLines(resp.Body())
}

func (c *client) AddLine(ctx context.Context, token string, in models.AddLineInput) error {
	_, err := c.execute(ctx, "add_line", token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(in).Post("/carrito_items/simple")
	})
	return err
}

func (c *client) UpdateLineQuantity(ctx context.Context, token string, lineID models.LineID, quantity int) error {
	_, err := c.execute(ctx, "update_line", token, func(r *resty.Request) (*resty.Response, error) {
		return r.
			SetPathParam("line_id", lineID.String()).
			SetBody(map[string]int{"cantidad": quantity}).
			Put("/carrito_items/id/{line_id}")
	})
	return err
}

func (c *client) RemoveLine(ctx context.Context, token string, lineID models.LineID) error {
	_, err := c.execute(ctx, "remove_line", token, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("line_id", lineID.String()).Delete("/carrito_items/id/{line_id}")
	})
	return err
}

func (c *client) GetProduct(ctx context.Context, productID models.ProductID) (*models.Product, error) {
	resp, err := c.execute(ctx, "product", "", func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("product_id", productID.String()).Get("/api/productos/{product_id}")
	})
	if err != nil {
		return nil, err
	}
	return parseProduct(productID, resp.Body()), nil
}

func (c *client) execute(
	ctx context.Context,
	op string,
	token string,
	send func(*resty.Request) (*resty.Response, error),
) (*resty.Response, error) {
	req := c.http.R().
		SetContext(ctx).
		SetHeader(requestIDHeader, requestID(ctx))
	if token != "" {
		req.SetAuthToken(token)
	}

	start := time.Now()
	resp, err := send(req)
	err = classify(op, resp, err)
	c.metrics.
		WithLabelValues(op, models.Code(err).String()).
		Observe(time.Since(start).Seconds())
	return resp, err
}

func classify(op string, resp *resty.Response, err error) error {
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%s: %w", op, err)
		}
		return fmt.Errorf("%s: %w: %v", op, models.ErrTransient, err)
	}

	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusUnauthorized:
		return fmt.Errorf("%s: %w", op, models.ErrUnauthorized)
	case code == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, models.ErrNotFound)
	case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
		return fmt.Errorf("%s: %w: %s", op, models.ErrValidation, detail(resp.Body()))
	default:
		return fmt.Errorf("%s: %w: status %d", op, models.ErrTransient, code)
	}
}

// detail pulls the backend's error message, which is a FastAPI style {"detail": ...}.
func detail(body []byte) string {
	d := gjson.GetBytes(body, "detail")
	if d.Exists() {
		if d.IsArray() {
			return d.Get("0.msg").String()
		}
		return d.String()
	}
	return string(body)
}

func requestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDHeader).(string); ok && id != "" {
		return id
	}
	return httpclient.GenerateCorrelationID()
}
