package server

import (
	"context"
	"errors"
	"net/http"
	"regexp"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	pkgmdw "github.com/nguyentranbao-ct/storefront-cart/internal/server/middleware"
	"go.uber.org/fx"
)

func NewSessionConfig(conf *config.Config) pkgmdw.SessionConfig {
	return pkgmdw.SessionConfig{
		Skipper:       isProbe,
		SessionCookie: conf.Cart.SessionCookie,
		TokenCookie:   conf.Cart.TokenCookie,
		MaxAge:        conf.Cart.LocalTTL,
		Secure:        conf.Server.SecureCookies,
	}
}

func isProbe(c echo.Context) bool {
	path := c.Request().URL.Path
	return path == "/health" || path == "/metrics"
}

// NewEcho builds the HTTP server with every route of the cart API.
func NewEcho(conf *config.Config, session pkgmdw.SessionConfig, handler Controller) (*echo.Echo, error) {
	corsOrigins, err := regexp.Compile(conf.Server.CORSOrigins)
	if err != nil {
		return nil, err
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = pkgmdw.NewValidator()
	e.HTTPErrorHandler = pkgmdw.ErrorHandler(logger.MustNamed("http_error"))

	logConfig := pkgmdw.LogRequestConfig{
		Logger: logger.MustNamed("http"),
		Enabled: func(c echo.Context) bool {
			return !isProbe(c)
		},
	}

	e.Use(pkgmdw.Metrics())
	e.Use(pkgmdw.RequestID())
	e.Use(pkgmdw.CORS(corsOrigins))
	e.Use(pkgmdw.Session(session))
	e.Use(pkgmdw.LogRequest(logConfig))
	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: func(c echo.Context, err error, stack []byte) error {
			log.Errorw(c.Request().Context(), "PANIC RECOVER", "error", err, "stack", string(stack))
			return nil
		},
	}))

	e.GET("/health", handler.Health)
	e.GET("/cart/fragment", pkgmdw.WrapHandler(handler.Fragment))

	api := e.Group("/api/v1/cart")
	api.GET("", pkgmdw.WrapHandler(handler.GetCart))
	api.GET("/summary", pkgmdw.WrapHandler(handler.GetSummary))
	api.POST("/reload", pkgmdw.WrapHandler(handler.Reload))
	api.POST("/lines", pkgmdw.WrapHandler(handler.AddLine))
	api.PUT("/lines/:line_id", pkgmdw.WrapHandler(handler.UpdateLine))
	api.DELETE("/lines/:line_id", pkgmdw.WrapHandler(handler.RemoveLine))
	api.POST("/reconcile", pkgmdw.WrapHandler(handler.Reconcile))

	return e, nil
}

func StartServer(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	e *echo.Echo,
) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Infow(ctx, "starting HTTP server", "addr", conf.Server.Addr)
				if err := e.Start(conf.Server.Addr); !errors.Is(err, http.ErrServerClosed) {
					log.Errorw(context.Background(), "HTTP server stopped", "error", err)
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return e.Shutdown(ctx)
		},
	})
}
