package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisherCartChanged(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	producer.ExpectInputWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "cart-events" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, err := msg.Key.Encode()
		if err != nil {
			return err
		}
		if string(key) != "s1" {
			return errors.New("unexpected key " + string(key))
		}
		return nil
	})
	producer.ExpectInputWithCheckerFunctionAndSucceed(func(value []byte) error {
		var event CartEvent
		if err := json.Unmarshal(value, &event); err != nil {
			return err
		}
		if event.Pattern != PatternCartRendered || event.Data.ItemCount != 3 || event.Data.LineCount != 2 {
			return errors.New("unexpected event " + string(value))
		}
		if event.Data.Total != "15.00" || event.Data.Mode != string(models.ModeRemote) {
			return errors.New("unexpected totals " + string(value))
		}
		if !event.Data.OccurredAt.Equal(at) {
			return errors.New("unexpected time " + string(value))
		}
		return nil
	})

	p := newPublisher(producer, "cart-events")
	p.now = func() time.Time { return at }

	p.CartChanged(context.Background(), "s1", cart.View{Mode: models.ModeLocal, ItemCount: 1, Lines: make([]cart.LineView, 1), Total: "5.00"})
	p.CartChanged(context.Background(), "s1", cart.View{Mode: models.ModeRemote, ItemCount: 3, Lines: make([]cart.LineView, 2), Total: "15.00"})

	require.NoError(t, p.Close())
}

func TestPublisherSurvivesProducerErrors(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	producer.ExpectInputAndFail(sarama.ErrOutOfBrokers)

	p := newPublisher(producer, "cart-events")
	p.CartChanged(context.Background(), "s2", cart.View{Mode: models.ModeLocal})

	assert.NoError(t, p.Close())
}

func TestPublisherDropsEventsAfterClose(t *testing.T) {
	producer := mocks.NewAsyncProducer(t, nil)
	p := newPublisher(producer, "cart-events")
	require.NoError(t, p.Close())

	assert.NotPanics(t, func() {
		p.CartChanged(context.Background(), "s3", cart.View{Mode: models.ModeLocal})
	})
	assert.NoError(t, p.Close())
}
