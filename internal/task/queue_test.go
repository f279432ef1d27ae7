package task

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "AgentForge/internal/errors"
	"AgentForge/internal/storage/mysql"
)

func TestMemoryQueueDrainsAfterClose(t *testing.T) {
	queue := NewMemoryQueue(4)
	ctx := context.Background()
	require.NoError(t, queue.Publish(ctx, "a"))
	require.NoError(t, queue.Publish(ctx, "b"))
	require.NoError(t, queue.Close())
	assert.ErrorIs(t, queue.Publish(ctx, "c"), ErrQueueClosed)

	var seen []string
	err := queue.Consume(ctx, 1, func(_ context.Context, runID string) error {
		seen = append(seen, runID)
		return errors.New("ignored")
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
}

func TestMemoryQueuePublishRespectsContext(t *testing.T) {
	queue := NewMemoryQueue(1)
	require.NoError(t, queue.Publish(context.Background(), "a"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, queue.Publish(ctx, "b"), context.DeadlineExceeded)
}

type recordedAck struct {
	acked   bool
	nacked  bool
	requeue bool
}

func (r *recordedAck) Ack(bool) error { r.acked = true; return nil }

func (r *recordedAck) Nack(_ bool, requeue bool) error {
	r.nacked = true
	r.requeue = requeue
	return nil
}

func TestSettleRequeuesOnlyRetryableErrors(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := &recordedAck{}
	settle(ok, nil, log)
	assert.True(t, ok.acked)

	storage := &recordedAck{}
	settle(storage, xerrors.New(xerrors.CodeStorageFailure, "db down"), log)
	assert.True(t, storage.nacked)
	assert.True(t, storage.requeue)

	plain := &recordedAck{}
	settle(plain, errors.New("boom"), log)
	assert.True(t, plain.nacked)
	assert.False(t, plain.requeue)
}

func TestQueueConstructorsValidateConfig(t *testing.T) {
	_, err := NewRedisQueue(context.Background(), RedisQueueConfig{})
	assert.Error(t, err)
	_, err = NewRabbitMQQueue(RabbitMQConfig{})
	assert.Error(t, err)

	q := newRedisQueue(nil, RedisQueueConfig{})
	assert.Equal(t, "agentforge:runs", q.queue)
	assert.Equal(t, 5*time.Second, q.wait)
}

func TestStatusTerminal(t *testing.T) {
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, IsValidStatus(StatusPending))
	assert.False(t, IsValidStatus(Status("queued")))
}

func TestRedisQueueCloseIsIdempotent(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	queue := newRedisQueue(client, RedisQueueConfig{})
	require.NoError(t, queue.Close())
	require.NoError(t, queue.Close())
}

type countingProducer struct{ closed int }

func (p *countingProducer) Publish(context.Context, string) error { return nil }
func (p *countingProducer) Close() error                          { p.closed++; return nil }

func TestServiceCloseOwnsRepositoryAndProducer(t *testing.T) {
	repo, err := mysql.NewFileRunRepository(t.TempDir())
	require.NoError(t, err)
	producer := &countingProducer{}
	service := NewService(repo, producer)
	require.NoError(t, service.Close())
	assert.Equal(t, 1, producer.closed)
}
