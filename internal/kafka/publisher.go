package kafka

import (
	"context"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
)

// Publisher sends a CartEvent every time a cart changes. It is the cart
// registry's Observer.
type Publisher interface {
	cart.Observer
	Close() error
}

type cartPublisher struct {
	producer sarama.AsyncProducer
	topic    string
	now      func() time.Time
	wg       sync.WaitGroup

	// mu guards closed; senders hold the read lock so Close never closes
	// the input channel under them.
	mu     sync.RWMutex
	closed bool
}

func NewPublisher(cfg config.KafkaConfig) (Publisher, error) {
	if !cfg.Enabled {
		return noopPublisher{}, nil
	}

	saramaConf := sarama.NewConfig()
	saramaConf.ClientID = cfg.GroupID
	saramaConf.Producer.RequiredAcks = sarama.WaitForLocal
	saramaConf.Producer.Compression = sarama.CompressionSnappy
	saramaConf.Producer.Flush.Frequency = 500 * time.Millisecond
	saramaConf.Producer.Return.Successes = false
	saramaConf.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(cfg.Brokers, saramaConf)
	if err != nil {
		return nil, err
	}
	return newPublisher(producer, cfg.CartTopic), nil
}

func newPublisher(producer sarama.AsyncProducer, topic string) *cartPublisher {
	p := &cartPublisher{
		producer: producer,
		topic:    topic,
		now:      time.Now,
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for perr := range producer.Errors() {
			log.Errorw(context.Background(), "Failed to publish cart event",
				"topic", perr.Msg.Topic,
				"error", perr.Err,
			)
		}
	}()
	return p
}

func (p *cartPublisher) CartChanged(ctx context.Context, sessionID string, view cart.View) {
	event := CartEvent{
		Pattern: PatternCartRendered,
		Data: CartEventData{
			SessionID:  sessionID,
			Mode:       string(view.Mode),
			ItemCount:  view.ItemCount,
			LineCount:  len(view.Lines),
			Total:      view.Total,
			OccurredAt: p.now().UTC(),
		},
	}
	value, err := json.Marshal(event)
	if err != nil {
		log.Errorw(ctx, "Failed to marshal cart event", "error", err)
		return
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(sessionID),
		Value: sarama.ByteEncoder(value),
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		log.Debugw(ctx, "Publisher closed, cart event dropped", "session_id", sessionID)
		return
	}
	select {
	case p.producer.Input() <- msg:
	case <-ctx.Done():
		log.Warnw(ctx, "Dropped cart event", "session_id", sessionID, "error", ctx.Err())
	}
}

func (p *cartPublisher) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.producer.AsyncClose()
	p.wg.Wait()
	return nil
}

type noopPublisher struct{}

func (noopPublisher) CartChanged(context.Context, string, cart.View) {}

func (noopPublisher) Close() error { return nil }
