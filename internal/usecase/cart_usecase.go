package usecase

import (
	"context"
	"fmt"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/internal/render"
)

// Session identifies the visitor behind a request and the credential it carried.
type Session struct {
	ID    string
	Token string
}

// NoticeCartUnavailable tells the page the shop backend could not be reached
// and the cart is shown empty for now.
const NoticeCartUnavailable = "cart_unavailable"

type CartResponse struct {
	Cart          cart.View `json:"cart"`
	LoginRequired bool      `json:"login_required"`
	Notice        string    `json:"notice,omitempty"`
}

type CartSummary struct {
	Mode          models.CartMode `json:"mode"`
	ItemCount     int             `json:"item_count"`
	Total         string          `json:"total"`
	LoginRequired bool            `json:"login_required"`
}

type ReconcileResponse struct {
	cart.ReconcileResult
	Cart          cart.View `json:"cart"`
	LoginRequired bool      `json:"login_required"`
}

type CartUsecase interface {
	GetCart(ctx context.Context, s Session) (*CartResponse, error)
	GetSummary(ctx context.Context, s Session) (*CartSummary, error)
	Reload(ctx context.Context, s Session) (*CartResponse, error)
	AddLine(ctx context.Context, s Session, req cart.AddLineRequest) (*CartResponse, error)
	UpdateQuantity(ctx context.Context, s Session, lineID models.LineID, quantity int) (*CartResponse, error)
	RemoveLine(ctx context.Context, s Session, lineID models.LineID) (*CartResponse, error)
	Reconcile(ctx context.Context, s Session) (*ReconcileResponse, error)
	RenderFragment(ctx context.Context, s Session) ([]byte, bool, error)

	// EndSession forgets a session after logout. An expired session also
	// loses its local cart.
	EndSession(ctx context.Context, sessionID string, expired bool) error
}

type cartUsecase struct {
	registry *cart.Registry
	fragment *render.Fragment
}

func NewCartUsecase(registry *cart.Registry, fragment *render.Fragment) CartUsecase {
	return &cartUsecase{
		registry: registry,
		fragment: fragment,
	}
}

func (uc *cartUsecase) attach(ctx context.Context, s Session) *cart.Manager {
	m := uc.registry.Get(s.ID)
	m.Attach(ctx, s.Token)
	return m
}

func (uc *cartUsecase) respond(m *cart.Manager, s Session) *CartResponse {
	resp := &CartResponse{
		Cart:          m.Render(),
		LoginRequired: m.CredentialRejected(s.Token),
	}
	if m.Unavailable() {
		resp.Notice = NoticeCartUnavailable
	}
	return resp
}

func (uc *cartUsecase) GetCart(ctx context.Context, s Session) (*CartResponse, error) {
	m := uc.attach(ctx, s)
	return uc.respond(m, s), nil
}

func (uc *cartUsecase) GetSummary(ctx context.Context, s Session) (*CartSummary, error) {
	m := uc.attach(ctx, s)
	view := m.Render()
	return &CartSummary{
		Mode:          view.Mode,
		ItemCount:     view.ItemCount,
		Total:         view.Total,
		LoginRequired: m.CredentialRejected(s.Token),
	}, nil
}

func (uc *cartUsecase) Reload(ctx context.Context, s Session) (*CartResponse, error) {
	m := uc.attach(ctx, s)
	if err := m.LoadRemote(ctx, true); err != nil {
		log.Warnw(ctx, "failed to reload cart", "session_id", s.ID, "error", err)
	}
	return uc.respond(m, s), nil
}

func (uc *cartUsecase) AddLine(ctx context.Context, s Session, req cart.AddLineRequest) (*CartResponse, error) {
	m := uc.attach(ctx, s)
	if err := m.AddLine(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to add line: %w", err)
	}
	return uc.respond(m, s), nil
}

func (uc *cartUsecase) UpdateQuantity(ctx context.Context, s Session, lineID models.LineID, quantity int) (*CartResponse, error) {
	m := uc.attach(ctx, s)
	if err := m.UpdateQuantity(ctx, lineID, quantity); err != nil {
		return nil, fmt.Errorf("failed to update quantity: %w", err)
	}
	return uc.respond(m, s), nil
}

func (uc *cartUsecase) RemoveLine(ctx context.Context, s Session, lineID models.LineID) (*CartResponse, error) {
	m := uc.attach(ctx, s)
	if err := m.RemoveLine(ctx, lineID); err != nil {
		return nil, fmt.Errorf("failed to remove line: %w", err)
	}
	return uc.respond(m, s), nil
}

func (uc *cartUsecase) Reconcile(ctx context.Context, s Session) (*ReconcileResponse, error) {
	m := uc.attach(ctx, s)
	result, err := m.ReconcileLocalIntoRemote(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reconcile cart: %w", err)
	}
	return &ReconcileResponse{
		ReconcileResult: result,
		Cart:            m.Render(),
		LoginRequired:   m.CredentialRejected(s.Token),
	}, nil
}

func (uc *cartUsecase) RenderFragment(ctx context.Context, s Session) ([]byte, bool, error) {
	m := uc.attach(ctx, s)
	loginRequired := m.CredentialRejected(s.Token)
	html, err := uc.fragment.Render(m.Render(), loginRequired)
	if err != nil {
		return nil, loginRequired, fmt.Errorf("failed to render cart fragment: %w", err)
	}
	return html, loginRequired, nil
}

func (uc *cartUsecase) EndSession(ctx context.Context, sessionID string, expired bool) error {
	if !expired {
		evicted := uc.registry.Evict(sessionID)
		log.Debugw(ctx, "cart session ended", "session_id", sessionID, "evicted", evicted)
		return nil
	}
	if err := uc.registry.Expire(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to expire cart session: %w", err)
	}
	log.Debugw(ctx, "cart session expired", "session_id", sessionID)
	return nil
}
