package app

import (
	"github.com/carousell/ct-go/pkg/logger"
	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/render"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/shopapi"
	"github.com/nguyentranbao-ct/storefront-cart/internal/server"
	"github.com/nguyentranbao-ct/storefront-cart/internal/usecase"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap/zapcore"
)

func Invoke(funcs ...any) *fx.App {
	log := logger.MustNamed("app")
	conf := config.MustLoad()
	log.Debugw("config loaded", log.Reflect("config", conf))
	return fx.New(
		fx.WithLogger(func() fxevent.Logger {
			l := &fxevent.ZapLogger{
				Logger: log.Unwrap().Desugar(),
			}
			l.UseLogLevel(zapcore.DebugLevel)
			return l
		}),
		fx.Provide(
			newLocalStore,
			newLocalRepository,
			newObserver,

			shopapi.NewClient,
			cart.NewCatalog,
			cart.NewRegistry,
			render.NewFragment,

			usecase.NewCartUsecase,

			server.NewSessionConfig,
			server.NewController,
			server.NewEcho,
		),
		fx.Supply(conf),
		fx.Invoke(InitTracing),
		fx.Invoke(StartRegistrySweeper),
		fx.Invoke(funcs...),
	)
}
