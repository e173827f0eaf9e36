package kafka

import (
	"context"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/usecase"
	"go.uber.org/fx"
)

// StartConsumeSessionEvents runs the session event consumer for the lifetime
// of the app. A consumer that stops on its own shuts the app down.
func StartConsumeSessionEvents(
	lc fx.Lifecycle,
	sd fx.Shutdowner,
	conf *config.Config,
	cartUsecase usecase.CartUsecase,
) error {
	if !conf.Kafka.Enabled {
		log.Warnf(context.Background(), "Kafka consumer is disabled in configuration")
		return nil
	}
	consumer, err := NewConsumer(conf.Kafka, NewSessionEventHandler(cartUsecase))
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(stopped)
				if err := consumer.Start(ctx); err != nil {
					log.Errorw(ctx, "Kafka consumer stopped", "error", err)
				}
				if ctx.Err() == nil {
					_ = sd.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-stopped:
			case <-stopCtx.Done():
			}
			return consumer.Stop(stopCtx)
		},
	})
	return nil
}

// ProvidePublisher builds the cart event publisher and closes it on stop.
func ProvidePublisher(lc fx.Lifecycle, conf *config.Config) (Publisher, error) {
	publisher, err := NewPublisher(conf.Kafka)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return publisher.Close()
		},
	})
	return publisher, nil
}
