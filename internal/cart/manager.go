package cart

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/localcart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/shopapi"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Observer is notified with the new View after every operation that may change the cart.
type Observer interface {
	CartChanged(ctx context.Context, sessionID string, view View)
}

type AddLineRequest struct {
	ProductID models.ProductID
	Quantity  int
	UnitPrice decimal.Decimal
	Variant   models.VariantSelection
}

type ReconcileResult struct {
	Synced int `json:"synced"`
	Failed int `json:"failed"`
}

// Manager owns the cart of one storefront session. It is safe for concurrent
// use; the state lock is never held while talking to the network or storage.
type Manager struct {
	sessionID        string
	shop             shopapi.Client
	local            localcart.Repository
	catalog          *Catalog
	observer         Observer
	placeholderImage string
	metrics          *prometheus.HistogramVec
	tracer           trace.Tracer
	now              func() time.Time

	initMu  sync.Mutex
	localMu sync.Mutex

	// loading counts reloads in flight. A non-forced reload only starts when
	// it is zero; a forced one always starts and is counted too.
	loading  atomic.Int32
	updating atomic.Bool
	// generation orders state writes: a reload only applies if nothing else
	// changed the cart since it started.
	generation atomic.Uint64

	mu           sync.Mutex
	mode         models.CartMode
	remoteCartID string
	lines        []models.CartLine
	loaded       bool
	unavailable  bool
	credential   string
	userID       string
	rejected     map[string]struct{}
	lastUsed     time.Time
}

func newManager(sessionID string, deps Dependencies) *Manager {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &Manager{
		sessionID:        sessionID,
		shop:             deps.Shop,
		local:            deps.Local,
		catalog:          deps.Catalog,
		observer:         deps.Observer,
		placeholderImage: deps.PlaceholderImage,
		metrics:          deps.Metrics,
		tracer:           otel.Tracer("storefront-cart/cart"),
		now:              now,
		mode:             models.ModeUninitialized,
		rejected:         make(map[string]struct{}),
		lastUsed:         now(),
	}
}

func (m *Manager) SessionID() string {
	return m.sessionID
}

func (m *Manager) Mode() models.CartMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// Unavailable reports whether the last remote load failed and the cart is
// shown empty until a reload succeeds.
func (m *Manager) Unavailable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.unavailable
}

func (m *Manager) UserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userID
}

// SetCredential binds the credential presented by the current request. A
// credential the backend already rejected is ignored for the rest of the
// session. It reports whether a new usable credential was bound.
func (m *Manager) SetCredential(token string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastUsed = m.now()
	if _, bad := m.rejected[token]; bad {
		token = ""
	}
	if token == m.credential {
		return false
	}
	m.credential = token
	return token != ""
}

// CredentialRejected reports whether the backend refused token during this session.
func (m *Manager) CredentialRejected(token string) bool {
	if token == "" {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, bad := m.rejected[token]
	return bad
}

func (m *Manager) idleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastUsed
}

func (m *Manager) currentCredential() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.credential
}

// Attach binds the credential of the current request and brings the session
// up to date: the first request initializes it, and a new credential on a
// Local session is promoted.
func (m *Manager) Attach(ctx context.Context, token string) View {
	fresh := m.SetCredential(token)
	if m.Mode() == models.ModeUninitialized {
		return m.Initialize(ctx)
	}
	if fresh && m.Mode() == models.ModeLocal {
		if _, err := m.PromoteCredential(ctx); err != nil {
			log.Infow(ctx, "credential not promoted", "session_id", m.sessionID, "error", err)
		}
	}
	return m.Render()
}

// Render returns the current View. It performs no I/O.
func (m *Manager) Render() View {
	m.mu.Lock()
	mode := m.mode
	lines := make([]models.CartLine, len(m.lines))
	copy(lines, m.lines)
	m.mu.Unlock()
	return Render(mode, lines, m.placeholderImage)
}

// Initialize decides the session's mode and loads its cart. Calling it again
// is a no-op that returns the current View.
func (m *Manager) Initialize(ctx context.Context) (view View) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.Mode() != models.ModeUninitialized {
		return m.Render()
	}

	ctx, done := m.track(ctx, "initialize")
	defer func() { done(nil) }()

	token := m.currentCredential()
	if token == "" {
		m.enterLocal(ctx, true)
		return m.notify(ctx)
	}
	if err := m.resolveIdentity(ctx, token); err != nil {
		log.Infow(ctx, "identity not resolved, using local cart", "session_id", m.sessionID, "error", err)
		m.enterLocal(ctx, true)
		return m.notify(ctx)
	}

	m.mu.Lock()
	m.mode = models.ModeRemote
	m.mu.Unlock()
	if err := m.loadRemote(ctx, true); err != nil {
		log.Warnw(ctx, "initial cart load failed", "session_id", m.sessionID, "error", err)
	}
	return m.notify(ctx)
}

// LoadRemote refreshes the cart from the backend. A non-forced call is served
// from memory once the cart is loaded, and is ignored while another reload is
// running. Outside Remote mode it reloads local storage instead.
func (m *Manager) LoadRemote(ctx context.Context, force bool) (err error) {
	ctx, done := m.track(ctx, "load")
	defer func() { done(err) }()

	err = m.loadRemote(ctx, force)
	m.notify(ctx)
	return err
}

func (m *Manager) loadRemote(ctx context.Context, force bool) error {
	m.mu.Lock()
	mode, loaded, token := m.mode, m.loaded, m.credential
	m.mu.Unlock()

	if mode != models.ModeRemote {
		m.enterLocal(ctx, true)
		return nil
	}
	if loaded && !force {
		return nil
	}
	if force {
		m.loading.Add(1)
	} else if !m.loading.CompareAndSwap(0, 1) {
		return nil
	}
	defer m.loading.Add(-1)

	gen := m.generation.Add(1)
	cart, err := m.shop.GetActiveCart(ctx, token)
	switch {
	case errors.Is(err, models.ErrNotFound):
		m.applyRemote(gen, "", nil)
		return nil
	case errors.Is(err, models.ErrUnauthorized):
		m.demote(ctx, token)
		return nil
	case err != nil:
		m.applyLoadFailure(gen)
		return fmt.Errorf("get active cart: %w", err)
	}

	lines, err := m.shop.GetCartLines(ctx, token, cart.ID)
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		m.demote(ctx, token)
		return nil
	case err != nil:
		m.applyLoadFailure(gen)
		return fmt.Errorf("get cart lines: %w", err)
	}

	m.catalog.Enrich(ctx, lines)
	m.applyRemote(gen, cart.ID, lines)
	return nil
}

func (m *Manager) applyRemote(gen uint64, cartID string, lines []models.CartLine) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation.Load() || m.mode != models.ModeRemote {
		return
	}
	m.remoteCartID = cartID
	m.lines = lines
	m.loaded = true
	m.unavailable = false
}

// applyLoadFailure shows an empty cart without changing mode; the next
// non-forced load retries.
func (m *Manager) applyLoadFailure(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.generation.Load() || m.mode != models.ModeRemote {
		return
	}
	m.lines = nil
	m.loaded = false
	m.unavailable = true
}

// AddLine adds quantity units of a product. In Remote mode the backend is
// updated and the cart reloaded; a rejected credential turns the call into a
// local add. A nil error means the line was added.
func (m *Manager) AddLine(ctx context.Context, req AddLineRequest) (err error) {
	if err := validateAdd(req); err != nil {
		return err
	}
	ctx, done := m.track(ctx, "add_line")
	defer func() { done(err) }()

	m.Initialize(ctx)

	m.mu.Lock()
	mode, token := m.mode, m.credential
	m.mu.Unlock()

	if mode == models.ModeRemote {
		err = m.shop.AddLine(ctx, token, models.AddLineInput{
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
			Variant:   req.Variant,
		})
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			m.demote(ctx, token)
		case err != nil:
			return fmt.Errorf("add line: %w", err)
		default:
			if err := m.loadRemote(ctx, true); err != nil {
				log.Warnw(ctx, "reload after add", "session_id", m.sessionID, "error", err)
			}
			m.notify(ctx)
			return nil
		}
	}

	if err := m.addLocal(ctx, req); err != nil {
		return err
	}
	m.notify(ctx)
	return nil
}

func validateAdd(req AddLineRequest) error {
	switch {
	case req.ProductID == "":
		return fmt.Errorf("%w: product id is required", models.ErrValidation)
	case req.Quantity < 1:
		return fmt.Errorf("%w: quantity must be at least 1", models.ErrValidation)
	case req.UnitPrice.IsNegative():
		return fmt.Errorf("%w: price must not be negative", models.ErrValidation)
	}
	return nil
}

func (m *Manager) addLocal(ctx context.Context, req AddLineRequest) error {
	m.localMu.Lock()
	defer m.localMu.Unlock()

	entries, err := m.local.Load(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("load local cart: %w", err)
	}

	merged := false
	for i := range entries {
		if entries[i].ProductID == req.ProductID && entries[i].Variant.Equal(req.Variant) {
			entries[i].Quantity += req.Quantity
			merged = true
			break
		}
	}
	if !merged {
		entries = append(entries, models.LocalEntry{
			ProductID: req.ProductID,
			Quantity:  req.Quantity,
			UnitPrice: req.UnitPrice,
			Variant:   req.Variant,
			AddedAt:   m.now(),
		})
	}

	if err := m.local.Save(ctx, m.sessionID, entries); err != nil {
		return fmt.Errorf("save local cart: %w", err)
	}
	m.setLocalLines(entries)
	return nil
}

// UpdateQuantity sets a line's quantity; zero or less removes it. Only one
// update runs at a time per session, others fail with ErrOperationInFlight.
func (m *Manager) UpdateQuantity(ctx context.Context, lineID models.LineID, quantity int) (err error) {
	if quantity <= 0 {
		return m.RemoveLine(ctx, lineID)
	}
	if !m.updating.CompareAndSwap(false, true) {
		return models.ErrOperationInFlight
	}
	defer m.updating.Store(false)

	ctx, done := m.track(ctx, "update_quantity")
	defer func() { done(err) }()

	m.Initialize(ctx)

	m.mu.Lock()
	mode, token := m.mode, m.credential
	_, known := m.findLine(lineID)
	m.mu.Unlock()

	if mode != models.ModeRemote {
		err = m.mutateLocal(ctx, lineID, func(e *models.LocalEntry) { e.Quantity = quantity })
		if err == nil {
			m.notify(ctx)
		}
		return err
	}
	if !known {
		return fmt.Errorf("line %s: %w", lineID, models.ErrNotFound)
	}

	err = m.shop.UpdateLineQuantity(ctx, token, lineID, quantity)
	if errors.Is(err, models.ErrUnauthorized) {
		m.demote(ctx, token)
		m.notify(ctx)
		return fmt.Errorf("update line: %w", err)
	}
	if err != nil {
		return fmt.Errorf("update line: %w", err)
	}

	m.mu.Lock()
	if i, ok := m.findLine(lineID); ok && m.mode == models.ModeRemote {
		m.lines[i].Quantity = quantity
		m.generation.Add(1)
	}
	m.mu.Unlock()
	m.notify(ctx)
	return nil
}

// RemoveLine deletes a line. Removing a line the backend no longer has succeeds.
func (m *Manager) RemoveLine(ctx context.Context, lineID models.LineID) (err error) {
	ctx, done := m.track(ctx, "remove_line")
	defer func() { done(err) }()

	m.Initialize(ctx)

	m.mu.Lock()
	mode, token := m.mode, m.credential
	_, known := m.findLine(lineID)
	m.mu.Unlock()

	if mode != models.ModeRemote {
		err = m.mutateLocal(ctx, lineID, nil)
		if err == nil {
			m.notify(ctx)
		}
		return err
	}
	if !known {
		return fmt.Errorf("line %s: %w", lineID, models.ErrNotFound)
	}

	err = m.shop.RemoveLine(ctx, token, lineID)
	switch {
	case errors.Is(err, models.ErrUnauthorized):
		m.demote(ctx, token)
		m.notify(ctx)
		return fmt.Errorf("remove line: %w", err)
	case errors.Is(err, models.ErrNotFound):
		log.Infow(ctx, "line already removed upstream", "session_id", m.sessionID, "line_id", lineID)
	case err != nil:
		return fmt.Errorf("remove line: %w", err)
	}

	m.mu.Lock()
	if i, ok := m.findLine(lineID); ok && m.mode == models.ModeRemote {
		m.lines = append(m.lines[:i:i], m.lines[i+1:]...)
		m.generation.Add(1)
	}
	m.mu.Unlock()
	m.notify(ctx)
	return nil
}

// mutateLocal applies fn to the stored entry with lineID; a nil fn removes it.
func (m *Manager) mutateLocal(ctx context.Context, lineID models.LineID, fn func(*models.LocalEntry)) error {
	m.localMu.Lock()
	defer m.localMu.Unlock()

	entries, err := m.local.Load(ctx, m.sessionID)
	if err != nil {
		return fmt.Errorf("load local cart: %w", err)
	}
	idx := -1
	for i := range entries {
		if entries[i].LineID() == lineID {
			idx = i
			break
		}
	}
	if idx < 0 {
		m.setLocalLines(entries)
		return fmt.Errorf("line %s: %w", lineID, models.ErrNotFound)
	}

	if fn == nil {
		entries = append(entries[:idx:idx], entries[idx+1:]...)
	} else {
		fn(&entries[idx])
	}
	if err := m.local.Save(ctx, m.sessionID, entries); err != nil {
		return fmt.Errorf("save local cart: %w", err)
	}
	m.setLocalLines(entries)
	return nil
}

// ReconcileLocalIntoRemote replays every local line through the backend's add
// operation. Each line succeeds or fails on its own. Local storage is cleared
// when at least one line was accepted, and the remote cart is reloaded.
func (m *Manager) ReconcileLocalIntoRemote(ctx context.Context) (result ReconcileResult, err error) {
	ctx, done := m.track(ctx, "reconcile")
	defer func() { done(err) }()

	token := m.currentCredential()
	if token == "" {
		return result, fmt.Errorf("reconcile: %w: no credential", models.ErrUnauthorized)
	}

	m.localMu.Lock()
	result, rejected, err := m.replayLocal(ctx, token)
	m.localMu.Unlock()
	if err != nil {
		return result, err
	}

	log.Infow(ctx, "local cart reconciled",
		"session_id", m.sessionID,
		"synced", result.Synced,
		"failed", result.Failed,
	)

	if rejected && result.Synced == 0 {
		m.demote(ctx, token)
		m.notify(ctx)
		return result, fmt.Errorf("reconcile: %w", models.ErrUnauthorized)
	}

	m.mu.Lock()
	m.mode = models.ModeRemote
	m.loaded = false
	m.mu.Unlock()

	if err := m.loadRemote(ctx, true); err != nil {
		log.Warnw(ctx, "reload after reconcile", "session_id", m.sessionID, "error", err)
	}
	m.notify(ctx)
	return result, nil
}

func (m *Manager) replayLocal(ctx context.Context, token string) (ReconcileResult, bool, error) {
	var result ReconcileResult
	entries, err := m.local.Load(ctx, m.sessionID)
	if err != nil {
		return result, false, fmt.Errorf("load local cart: %w", err)
	}

	rejected := false
	for _, e := range entries {
		err := m.shop.AddLine(ctx, token, models.AddLineInput{
			ProductID: e.ProductID,
			Quantity:  e.Quantity,
			UnitPrice: e.UnitPrice,
			Variant:   e.Variant,
		})
		if err != nil {
			result.Failed++
			rejected = rejected || errors.Is(err, models.ErrUnauthorized)
			log.Warnw(ctx, "replay local line", "session_id", m.sessionID, "product_id", e.ProductID, "error", err)
			continue
		}
		result.Synced++
	}

	if result.Synced > 0 {
		if err := m.local.Clear(ctx, m.sessionID); err != nil {
			log.Errorw(ctx, "clear local cart after reconcile", "session_id", m.sessionID, "error", err)
		}
	}
	return result, rejected, nil
}

// PromoteCredential is run when a Local session presents a new credential:
// the identity is resolved and, if valid, the local cart is reconciled.
func (m *Manager) PromoteCredential(ctx context.Context) (ReconcileResult, error) {
	token := m.currentCredential()
	if token == "" || m.Mode() != models.ModeLocal {
		return ReconcileResult{}, nil
	}
	if err := m.resolveIdentity(ctx, token); err != nil {
		return ReconcileResult{}, fmt.Errorf("promote: %w", err)
	}
	return m.ReconcileLocalIntoRemote(ctx)
}

func (m *Manager) resolveIdentity(ctx context.Context, token string) error {
	identity, err := m.shop.VerifyIdentity(ctx, token)
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			m.rejectCredential(token)
			return err
		}
		// unbind so the next request presenting token tries again
		m.mu.Lock()
		if m.credential == token {
			m.credential = ""
		}
		m.mu.Unlock()
		return err
	}
	m.mu.Lock()
	m.userID = identity.UserID
	m.mu.Unlock()
	return nil
}

func (m *Manager) rejectCredential(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rejected[token] = struct{}{}
	if m.credential == token {
		m.credential = ""
	}
	m.userID = ""
}

// demote switches the session to Local mode for good after the backend
// rejected token. Remote lines are dropped, not copied into local storage.
func (m *Manager) demote(ctx context.Context, token string) {
	log.Infow(ctx, "credential rejected, switching to local cart", "session_id", m.sessionID)
	m.rejectCredential(token)
	m.mu.Lock()
	m.mode = models.ModeLocal
	m.remoteCartID = ""
	m.lines = nil
	m.loaded = false
	m.unavailable = false
	m.generation.Add(1)
	m.mu.Unlock()
	m.enterLocal(ctx, false)
}

// enterLocal switches to Local mode and shows local storage. enrich allows
// fetching product displays that are not cached yet.
func (m *Manager) enterLocal(ctx context.Context, enrich bool) {
	m.localMu.Lock()
	entries, err := m.local.Load(ctx, m.sessionID)
	m.localMu.Unlock()
	if err != nil {
		log.Errorw(ctx, "load local cart", "session_id", m.sessionID, "error", err)
	}

	lines := make([]models.CartLine, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.ToLine())
	}
	if enrich {
		m.catalog.Enrich(ctx, lines)
	} else {
		m.catalog.Attach(lines)
	}

	m.mu.Lock()
	m.mode = models.ModeLocal
	m.lines = lines
	m.loaded = true
	m.mu.Unlock()
}

func (m *Manager) setLocalLines(entries []models.LocalEntry) {
	lines := make([]models.CartLine, 0, len(entries))
	for _, e := range entries {
		lines = append(lines, e.ToLine())
	}
	m.catalog.Attach(lines)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.mode == models.ModeRemote {
		return
	}
	m.mode = models.ModeLocal
	m.lines = lines
	m.loaded = true
}

// findLine must be called with mu held.
func (m *Manager) findLine(lineID models.LineID) (int, bool) {
	for i := range m.lines {
		if m.lines[i].LineID == lineID {
			return i, true
		}
	}
	return -1, false
}

func (m *Manager) notify(ctx context.Context) View {
	view := m.Render()
	if m.observer != nil {
		m.observer.CartChanged(ctx, m.sessionID, view)
	}
	return view
}

func (m *Manager) track(ctx context.Context, op string) (context.Context, func(error)) {
	ctx, span := m.tracer.Start(ctx, "cart."+op, trace.WithAttributes(
		attribute.String("cart.session_id", m.sessionID),
	))
	start := time.Now()
	return ctx, func(err error) {
		mode := string(m.Mode())
		span.SetAttributes(attribute.String("cart.mode", mode))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(otelcodes.Error, err.Error())
		}
		span.End()
		if m.metrics != nil {
			m.metrics.
				WithLabelValues(op, mode, models.Code(err).String()).
				Observe(time.Since(start).Seconds())
		}
	}
}
