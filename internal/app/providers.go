package app

import (
	"context"
	"fmt"
	"time"

	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/kafka"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/localcart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/repo/mongodb"
	"go.uber.org/fx"
)

const (
	backendMemory = "memory"
	backendRedis  = "redis"
	backendMongo  = "mongo"
)

func newLocalStore(lc fx.Lifecycle, cfg *config.Config) (localcart.Store, error) {
	switch cfg.LocalStore.Backend {
	case backendMemory, "":
		return localcart.NewMemoryStore(), nil
	case backendRedis:
		client := localcart.NewRedisClient(cfg.Redis.Addr)
		store := localcart.NewRedisStore(client)
		lc.Append(fx.Hook{
			OnStart: func(ctx context.Context) error {
				return store.Ping(ctx)
			},
			OnStop: func(ctx context.Context) error {
				return client.Close()
			},
		})
		return store, nil
	case backendMongo:
		return newMongoStore(lc, cfg)
	default:
		return nil, fmt.Errorf("unknown local store backend %q", cfg.LocalStore.Backend)
	}
}

func newMongoStore(lc fx.Lifecycle, cfg *config.Config) (localcart.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	db, err := mongodb.NewConnection(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init mongo client: %w", err)
	}
	repo := mongodb.NewLocalCartRepository(db)

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := db.Ping(ctx); err != nil {
				return err
			}
			return repo.EnsureIndexes(ctx)
		},
		OnStop: func(ctx context.Context) error {
			return db.Close(ctx)
		},
	})
	return repo, nil
}

func newLocalRepository(store localcart.Store, cfg *config.Config) localcart.Repository {
	return localcart.NewRepository(store, localcart.WithTTL(cfg.Cart.LocalTTL))
}

func newObserver(lc fx.Lifecycle, cfg *config.Config) (cart.Observer, error) {
	return kafka.ProvidePublisher(lc, cfg)
}

// StartRegistrySweeper evicts idle cart sessions in the background.
func StartRegistrySweeper(lc fx.Lifecycle, registry *cart.Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go registry.Run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}
