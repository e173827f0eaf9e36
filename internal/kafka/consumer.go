package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/carousell/ct-go/pkg/logger"
	log "github.com/carousell/ct-go/pkg/logger/log_context"
	"github.com/gammazero/workerpool"
	"github.com/goccy/go-json"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/pkg/util"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"
	"google.golang.org/grpc/codes"
)

const (
	maxAttempts  = 3
	fetchBackoff = time.Second
)

type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type kafkaConsumer struct {
	reader         messageReader
	topic          string
	groupID        string
	metrics        *prometheus.HistogramVec
	consumeTimeout time.Duration
	handler        Handler
	workerPool     *workerpool.WorkerPool
	done           chan struct{}
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewConsumer creates a consumer of cfg.SessionTopic. Messages are handled
// concurrently by cfg.Workers workers and committed once handled.
func NewConsumer(cfg config.KafkaConfig, handler Handler) (Consumer, error) {
	if !cfg.Enabled {
		return &noopConsumer{}, nil
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.SessionTopic,
		GroupID:     cfg.GroupID,
		StartOffset: kafka.LastOffset,
	})
	return newConsumer(reader, cfg, handler)
}

func newConsumer(reader messageReader, cfg config.KafkaConfig, handler Handler) (*kafkaConsumer, error) {
	metrics, err := util.GetHistogramVec("kafka_messages_consumed", "status", "topic", "group")
	if err != nil {
		return nil, fmt.Errorf("get histogram vec: %w", err)
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	return &kafkaConsumer{
		reader:         reader,
		topic:          cfg.SessionTopic,
		groupID:        cfg.GroupID,
		metrics:        metrics,
		consumeTimeout: 30 * time.Second,
		handler:        handler,
		workerPool:     workerpool.New(workers),
		done:           make(chan struct{}),
		sleep:          sleepContext,
	}, nil
}

func (c *kafkaConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "Starting Kafka consumer for topic: %s", c.topic)

	for ctx.Err() == nil {
		select {
		case <-c.done:
			return nil
		default:
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			log.Errorw(ctx, "Error fetching message", "error", err)
			if c.sleep(ctx, fetchBackoff) != nil {
				return nil
			}
			continue
		}

		c.workerPool.Submit(func() {
			c.processMessage(ctx, msg)
			if err := c.reader.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
				log.Errorw(ctx, "Failed to commit message", "error", err, "offset", msg.Offset)
			}
		})
	}
	return nil
}

func (c *kafkaConsumer) Stop(ctx context.Context) error {
	log.Infof(ctx, "Stopping Kafka consumer")
	close(c.done)
	c.workerPool.StopWait()
	return c.reader.Close()
}

func (c *kafkaConsumer) processMessage(ctx context.Context, msg kafka.Message) {
	start := time.Now()
	lagMs := start.Sub(msg.Time).Milliseconds()

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = c.handle(ctx, msg)
		var retry *ErrRetry
		if !errors.As(err, &retry) || attempt == maxAttempts {
			break
		}
		log.Warnw(ctx, "Retrying message", "error", err, "attempt", attempt, "offset", msg.Offset)
		if c.sleep(ctx, retry.Delay) != nil {
			break
		}
	}
	duration := time.Since(start)

	code := getCode(err)
	content := "success"
	if err != nil {
		content = err.Error()
	}

	log.Logw(ctx, getLogLevel(code), content,
		"code", code,
		"duration_ms", duration.Milliseconds(),
		"topic", msg.Topic,
		"partition", msg.Partition,
		"offset", msg.Offset,
		"lag_ms", lagMs,
		"key", string(msg.Key),
		"value", json.RawMessage(msg.Value),
	)

	c.metrics.
		WithLabelValues(code.String(), c.topic, c.groupID).
		Observe(duration.Seconds())
}

func (c *kafkaConsumer) handle(msgCtx context.Context, msg kafka.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("PANIC RECOVER: %+v", r)
		}
	}()

	ctx, cancel := context.WithTimeout(msgCtx, c.consumeTimeout)
	defer cancel()
	return c.handler(ctx, msg)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func getCode(err error) codes.Code {
	var retry *ErrRetry
	if errors.As(err, &retry) {
		return models.Code(retry.Err)
	}
	return models.Code(err)
}

// noopConsumer is used when Kafka is disabled
type noopConsumer struct{}

func (n *noopConsumer) Start(ctx context.Context) error {
	log.Infof(ctx, "Kafka consumer is disabled")
	return nil
}

func (n *noopConsumer) Stop(ctx context.Context) error {
	return nil
}

func getLogLevel(code codes.Code) logger.Level {
	switch code {
	case codes.OK:
		return logger.InfoLevel
	case codes.Canceled,
		codes.InvalidArgument,
		codes.NotFound,
		codes.AlreadyExists,
		codes.PermissionDenied,
		codes.Unauthenticated,
		codes.ResourceExhausted,
		codes.FailedPrecondition,
		codes.Aborted,
		codes.Unimplemented,
		codes.OutOfRange:
		return logger.WarnLevel
	default:
		return logger.ErrorLevel
	}
}
