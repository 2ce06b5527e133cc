package audit

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"pseudonym/internal/pseudonym/models"
	"pseudonym/internal/pseudonym/ports"
	"pseudonym/internal/pseudonym/service/mocks"
	"pseudonym/pkg/platform/circuit"
	"pseudonym/pkg/platform/sentinel"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func event(b byte) ports.AssignmentEvent {
	return ports.AssignmentEvent{
		Digest:     models.Digest{b},
		AssignedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		RequestID:  "req",
	}
}

func TestMarshalOmitsNothingSecret(t *testing.T) {
	data, err := Marshal(event(0xab))
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"digest": "ab00000000000000000000000000000000000000000000000000000000000000",
		"assigned_at": "2025-01-02T03:04:05Z",
		"request_id": "req"
	}`, string(data))
}

func TestPublisher_SyncMode(t *testing.T) {
	primary := NewMemoryPublisher()
	pub := NewPublisher(primary, WithPublisherLogger(quiet))
	defer pub.Close()

	require.NoError(t, pub.Emit(context.Background(), event(1)))
	assert.Len(t, primary.Events(), 1)
}

func TestPublisher_AsyncMode(t *testing.T) {
	primary := NewMemoryPublisher()
	pub := NewPublisher(primary, WithAsyncBuffer(100), WithPublisherLogger(quiet))

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, pub.Emit(context.Background(), event(byte(i))))
		}()
	}
	wg.Wait()
	pub.Close()

	assert.Len(t, primary.Events(), 50)
	assert.Zero(t, pub.Dropped())

	// Emit after Close goes nowhere but does not panic.
	assert.NoError(t, pub.Emit(context.Background(), event(0xff)))
	assert.Equal(t, int64(1), pub.Dropped())
}

// stalledPublisher blocks until its context ends, like a producer whose
// brokers are unreachable.
type stalledPublisher struct{}

func (stalledPublisher) Emit(ctx context.Context, _ ports.AssignmentEvent) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestPublisher_DeliveryTimeout(t *testing.T) {
	fallback := NewMemoryPublisher()
	pub := NewPublisher(stalledPublisher{},
		WithAsyncBuffer(10),
		WithDeliveryTimeout(20*time.Millisecond),
		WithFallback(fallback),
		WithPublisherLogger(quiet),
	)
	require.NoError(t, pub.Emit(context.Background(), event(1)))
	require.NoError(t, pub.Emit(context.Background(), event(2)))

	closed := make(chan struct{})
	go func() {
		pub.Close()
		close(closed)
	}()
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close blocked on a stalled primary")
	}
	assert.Len(t, fallback.Events(), 2)

	t.Run("sync emit", func(t *testing.T) {
		fallback := NewMemoryPublisher()
		pub := NewPublisher(stalledPublisher{},
			WithDeliveryTimeout(20*time.Millisecond),
			WithFallback(fallback),
			WithPublisherLogger(quiet),
		)
		require.NoError(t, pub.Emit(context.Background(), event(3)))
		assert.Len(t, fallback.Events(), 1)
	})
}

func TestPublisher_FallbackAndRecovery(t *testing.T) {
	ctrl := gomock.NewController(t)
	primary := mocks.NewMockAuditPublisher(ctrl)
	fallback := NewMemoryPublisher()
	clock := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	pub := NewPublisher(primary,
		WithFallback(fallback),
		WithBreaker(circuit.New("kafka", circuit.WithFailureThreshold(2), circuit.WithSuccessThreshold(1))),
		WithProbeInterval(time.Minute),
		WithPublisherLogger(quiet),
		withClock(func() time.Time { return clock }),
	)
	ctx := context.Background()
	broker := errors.New("broker unreachable")

	// Two failures open the breaker; both events land in the fallback.
	primary.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(broker).Times(2)
	require.NoError(t, pub.Emit(ctx, event(1)))
	require.NoError(t, pub.Emit(ctx, event(2)))
	assert.True(t, pub.breaker.IsOpen())

	// While open and before the probe interval, the primary is skipped.
	require.NoError(t, pub.Emit(ctx, event(3)))
	assert.Len(t, fallback.Events(), 3)

	// After the interval one probe succeeds and closes the breaker.
	clock = clock.Add(2 * time.Minute)
	primary.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(nil)
	require.NoError(t, pub.Emit(ctx, event(4)))
	assert.False(t, pub.breaker.IsOpen())
	assert.Len(t, fallback.Events(), 3)
}

func TestPublisher_NoFallbackSurfacesErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	primary := mocks.NewMockAuditPublisher(ctrl)
	broker := errors.New("broker unreachable")
	pub := NewPublisher(primary,
		WithBreaker(circuit.New("kafka", circuit.WithFailureThreshold(1))),
		WithPublisherLogger(quiet),
	)

	primary.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(broker)
	assert.ErrorIs(t, pub.Emit(context.Background(), event(1)), broker)
	assert.ErrorIs(t, pub.Emit(context.Background(), event(2)), sentinel.ErrUnavailable)
}

func TestLogPublisher(t *testing.T) {
	var buf safeBuffer
	pub := NewLogPublisher(slog.New(slog.NewTextHandler(&buf, nil)))
	require.NoError(t, pub.Emit(context.Background(), event(0xcd)))
	assert.Contains(t, buf.String(), "digest=cd0000000000")
}

type safeBuffer struct {
	mu  sync.Mutex
	buf []byte
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.buf = append(b.buf, p...)
	return len(p), nil
}

func (b *safeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}
