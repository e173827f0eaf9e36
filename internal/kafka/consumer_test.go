package kafka

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nguyentranbao-ct/storefront-cart/internal/cart"
	"github.com/nguyentranbao-ct/storefront-cart/internal/config"
	"github.com/nguyentranbao-ct/storefront-cart/internal/models"
	"github.com/nguyentranbao-ct/storefront-cart/internal/usecase"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
)

type fakeReader struct {
	mu        sync.Mutex
	fetchErrs []error
	messages  chan kafka.Message
	committed []int64
	closed    bool
}

func newFakeReader(msgs ...kafka.Message) *fakeReader {
	r := &fakeReader{messages: make(chan kafka.Message, len(msgs))}
	for _, m := range msgs {
		r.messages <- m
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.fetchErrs) > 0 {
		err := r.fetchErrs[0]
		r.fetchErrs = r.fetchErrs[1:]
		r.mu.Unlock()
		return kafka.Message{}, err
	}
	r.mu.Unlock()
	select {
	case m := <-r.messages:
		return m, nil
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	}
}

func (r *fakeReader) CommitMessages(ctx context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) commits() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.committed)
}

type endedSession struct {
	id      string
	expired bool
}

type fakeCartUsecase struct {
	usecase.CartUsecase

	mu    sync.Mutex
	ended []endedSession
	errs  []error
}

func (f *fakeCartUsecase) EndSession(ctx context.Context, sessionID string, expired bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, endedSession{sessionID, expired})
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeCartUsecase) endedSessions() []endedSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]endedSession(nil), f.ended...)
}

func sessionMessage(offset int64, pattern, sid string) kafka.Message {
	return kafka.Message{
		Topic:  "sessions",
		Offset: offset,
		Key:    []byte(sid),
		Value:  []byte(fmt.Sprintf(`{"pattern":%q,"data":{"session_id":%q}}`, pattern, sid)),
		Time:   time.Now(),
	}
}

func TestSessionEventHandler(t *testing.T) {
	ctx := context.Background()
	uc := &fakeCartUsecase{}
	handle := NewSessionEventHandler(uc)

	require.NoError(t, handle(ctx, sessionMessage(1, PatternSessionLogout, "s1")))
	require.NoError(t, handle(ctx, sessionMessage(2, PatternSessionExpired, "s2")))
	require.NoError(t, handle(ctx, sessionMessage(3, "session.created", "s3")))

	assert.Equal(t, []endedSession{{"s1", false}, {"s2", true}}, uc.endedSessions())

	err := handle(ctx, kafka.Message{Value: []byte("not json")})
	assert.ErrorIs(t, err, models.ErrValidation)

	err = handle(ctx, sessionMessage(4, PatternSessionLogout, ""))
	assert.ErrorIs(t, err, models.ErrValidation)

	uc.errs = []error{errors.New("redis down")}
	err = handle(ctx, sessionMessage(5, PatternSessionExpired, "s5"))
	var retry *ErrRetry
	require.ErrorAs(t, err, &retry)
	assert.Equal(t, sessionRetryDelay, retry.Delay)
}

func TestConsumerProcessesAndCommits(t *testing.T) {
	uc := &fakeCartUsecase{errs: []error{nil, fmt.Errorf("clear: %w", models.ErrTransient)}}
	reader := newFakeReader(
		sessionMessage(10, PatternSessionLogout, "a"),
		sessionMessage(11, PatternSessionExpired, "b"),
	)
	c, err := newConsumer(reader, config.KafkaConfig{SessionTopic: "sessions", GroupID: "g", Workers: 1}, NewSessionEventHandler(uc))
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return nil }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Stop(context.Background()))

	// "b" failed once and was retried
	assert.Equal(t, []endedSession{{"a", false}, {"b", true}, {"b", true}}, uc.endedSessions())
	assert.True(t, reader.closed)
}

func TestConsumerBacksOffOnFetchErrors(t *testing.T) {
	uc := &fakeCartUsecase{}
	reader := newFakeReader(sessionMessage(20, PatternSessionLogout, "a"))
	reader.fetchErrs = []error{errors.New("broker down"), errors.New("broker down")}
	c, err := newConsumer(reader, config.KafkaConfig{Workers: 1}, NewSessionEventHandler(uc))
	require.NoError(t, err)

	var mu sync.Mutex
	var waits []time.Duration
	c.sleep = func(_ context.Context, d time.Duration) error {
		mu.Lock()
		waits = append(waits, d)
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Start(ctx) }()

	require.Eventually(t, func() bool { return reader.commits() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, c.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []time.Duration{fetchBackoff, fetchBackoff}, waits)
}

func TestConsumerStopsWhileBackingOff(t *testing.T) {
	reader := newFakeReader()
	reader.fetchErrs = []error{errors.New("broker down")}
	c, err := newConsumer(reader, config.KafkaConfig{Workers: 1}, NewSessionEventHandler(&fakeCartUsecase{}))
	require.NoError(t, err)
	c.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	assert.NoError(t, c.Start(context.Background()))
	require.NoError(t, c.Stop(context.Background()))
}

func TestConsumerRecoversPanics(t *testing.T) {
	c, err := newConsumer(newFakeReader(), config.KafkaConfig{Workers: 1}, func(context.Context, kafka.Message) error {
		panic("boom")
	})
	require.NoError(t, err)

	err = c.handle(context.Background(), kafka.Message{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PANIC RECOVER")
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, codes.OK, getCode(nil))
	assert.Equal(t, codes.Unavailable, getCode(NewRetryError(models.ErrTransient, time.Second)))
	assert.Equal(t, codes.InvalidArgument, getCode(fmt.Errorf("x: %w", models.ErrValidation)))
	assert.Equal(t, codes.DeadlineExceeded, getCode(context.DeadlineExceeded))
}

func TestDisabledKafka(t *testing.T) {
	c, err := NewConsumer(config.KafkaConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.NoError(t, c.Start(context.Background()))

	p, err := NewPublisher(config.KafkaConfig{Enabled: false})
	require.NoError(t, err)
	p.CartChanged(context.Background(), "s", cart.View{})
	assert.NoError(t, p.Close())
}
