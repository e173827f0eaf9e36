package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	pkgmdw "github.com/nguyentranbao-ct/storefront-cart/internal/server/middleware"
	"github.com/nguyentranbao-ct/storefront-cart/internal/usecase"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/codes"
)

type Controller interface {
	Health(c echo.Context) error
	GetCart(c echo.Context, req sessionRequest) (*usecase.CartResponse, error)
	GetSummary(c echo.Context, req sessionRequest) (*usecase.CartSummary, error)
	Reload(c echo.Context, req sessionRequest) (*usecase.CartResponse, error)
	AddLine(c echo.Context, req addLineRequest) (*usecase.CartResponse, error)
	UpdateLine(c echo.Context, req updateLineRequest) (*usecase.CartResponse, error)
	RemoveLine(c echo.Context, req lineRequest) (*usecase.CartResponse, error)
	Reconcile(c echo.Context, req sessionRequest) (*usecase.ReconcileResponse, error)
	Fragment(c echo.Context, req sessionRequest) (pkgmdw.HTML, error)
}

type sessionRequest struct {
	SessionID string `ctx:"session_id" validate:"required"`
	Token     string `ctx:"token"`
}

type addLineRequest struct {
	SessionID string                  `ctx:"session_id" validate:"required"`
	Token     string                  `ctx:"token"`
	ProductID string                  `json:"product_id" validate:"required,max=128"`
	Quantity  int                     `json:"quantity" validate:"min=1,max=999"`
	Price     decimal.Decimal         `json:"price" validate:"gte=0"`
	Variant   models.VariantSelection `json:"variant_data" validate:"omitempty,variant"`
}

type updateLineRequest struct {
	SessionID string `ctx:"session_id" validate:"required"`
	Token     string `ctx:"token"`
	LineID    string `param:"line_id" validate:"required"`
	// a quantity of zero or less removes the line
	Quantity *int `json:"quantity" validate:"required"`
}

type lineRequest struct {
	SessionID string `ctx:"session_id" validate:"required"`
	Token     string `ctx:"token"`
	LineID    string `param:"line_id" validate:"required"`
}

type controller struct {
	cartUsecase usecase.CartUsecase
	session     pkgmdw.SessionConfig
}

// LogFieldCartMode is the access log field carrying the cart mode after the request.
const LogFieldCartMode = "cart_mode"

func NewController(cartUsecase usecase.CartUsecase, session pkgmdw.SessionConfig) Controller {
	return &controller{
		cartUsecase: cartUsecase,
		session:     session,
	}
}

func (h *controller) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "storefront-cart",
	})
}

// settle clears the token cookie once the shop backend refused it, so the
// browser stops presenting it.
func (h *controller) settle(c echo.Context, mode models.CartMode, loginRequired bool, err error) {
	if mode != "" {
		pkgmdw.SetLogField(c.Request().Context(), LogFieldCartMode, mode)
	}
	if loginRequired || models.Code(err) == codes.Unauthenticated {
		pkgmdw.ClearCredential(c, h.session)
	}
}

func (h *controller) GetCart(c echo.Context, req sessionRequest) (*usecase.CartResponse, error) {
	resp, err := h.cartUsecase.GetCart(c.Request().Context(), sessionOf(req.SessionID, req.Token))
	h.settle(c, modeOf(resp), resp != nil && resp.LoginRequired, err)
	return resp, err
}

func (h *controller) GetSummary(c echo.Context, req sessionRequest) (*usecase.CartSummary, error) {
	resp, err := h.cartUsecase.GetSummary(c.Request().Context(), sessionOf(req.SessionID, req.Token))
	h.settle(c, modeOf(resp), resp != nil && resp.LoginRequired, err)
	return resp, err
}

func (h *controller) Reload(c echo.Context, req sessionRequest) (*usecase.CartResponse, error) {
	resp, err := h.cartUsecase.Reload(c.Request().Context(), sessionOf(req.SessionID, req.Token))
	h.settle(c, modeOf(resp), resp != nil && resp.LoginRequired, err)
	return resp, err
}

func (h *controller) AddLine(c echo.Context, req addLineRequest) (*usecase.CartResponse, error) {
	resp, err := h.cartUsecase.AddLine(c.Request().Context(), sessionOf(req.SessionID, req.Token), cart.AddLineRequest{
		ProductID: models.ProductID(req.ProductID),
		Quantity:  req.Quantity,
		UnitPrice: req.Price,
		Variant:   req.Variant,
	})
	h.settle(c, modeOf(resp), resp != nil && resp.LoginRequired, err)
	return resp, err
}

func (h *controller) UpdateLine(c echo.Context, req updateLineRequest) (*usecase.CartResponse, error) {
	resp, err := h.cartUsecase.UpdateQuantity(c.Request().Context(), sessionOf(req.SessionID, req.Token),
		models.LineID(req.LineID), *req.Quantity)
	h.settle(c, modeOf(resp), resp != nil && resp.LoginRequired, err)
	return resp, err
}

func (h *controller) RemoveLine(c echo.Context, req lineRequest) (*usecase.CartResponse, error) {
	resp, err := h.cartUsecase.RemoveLine(c.Request().Context(), sessionOf(req.SessionID, req.Token),
		models.LineID(req.LineID))
	h.settle(c, modeOf(resp), resp != nil && resp.LoginRequired, err)
	return resp, err
}

func (h *controller) Reconcile(c echo.Context, req sessionRequest) (*usecase.ReconcileResponse, error) {
	resp, err := h.cartUsecase.Reconcile(c.Request().Context(), sessionOf(req.SessionID, req.Token))
	h.settle(c, modeOf(resp), resp != nil && resp.LoginRequired, err)
	return resp, err
}

func (h *controller) Fragment(c echo.Context, req sessionRequest) (pkgmdw.HTML, error) {
	html, loginRequired, err := h.cartUsecase.RenderFragment(c.Request().Context(), sessionOf(req.SessionID, req.Token))
	h.settle(c, "", loginRequired, err)
	if err != nil {
		return nil, err
	}
	return pkgmdw.HTML(html), nil
}

func modeOf(resp any) models.CartMode {
	switch r := resp.(type) {
	case *usecase.CartResponse:
		if r != nil {
			return r.Cart.Mode
		}
	case *usecase.CartSummary:
		if r != nil {
			return r.Mode
		}
	case *usecase.ReconcileResponse:
		if r != nil {
			return r.Cart.Mode
		}
	}
	return ""
}

func sessionOf(id, token string) usecase.Session {
	return usecase.Session{ID: id, Token: token}
}
