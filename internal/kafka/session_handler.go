package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/internal/usecase"
	"github.com/segmentio/kafka-go"
)

const sessionRetryDelay = 2 * time.Second

// NewSessionEventHandler ends cart sessions on logout and expiry events.
func NewSessionEventHandler(cartUsecase usecase.CartUsecase) Handler {
	return func(ctx context.Context, msg kafka.Message) error {
		var event SessionEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("%w: unmarshal session event: %v", models.ErrValidation, err)
		}

		var expired bool
		switch event.Pattern {
		case PatternSessionLogout:
		case PatternSessionExpired:
			expired = true
		default:
			log.Debugw(ctx, "ignoring session event", "pattern", event.Pattern)
			return nil
		}
		if event.Data.SessionID == "" {
			return fmt.Errorf("%w: session event without session id", models.ErrValidation)
		}

		err := cartUsecase.EndSession(ctx, event.Data.SessionID, expired)
		if err != nil && !errors.Is(err, context.Canceled) {
			return NewRetryError(err, sessionRetryDelay)
		}
		return err
	}
}
