package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type mockProducer struct{ mock.Mock }

func (m *mockProducer) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	args := m.Called(ctx, msgs)
	return args.Error(0)
}

type fakeStore struct {
	mu     sync.Mutex
	queue  []Event
	sent   []int64
	failed map[int64]string
}

func (s *fakeStore) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := min(batchSize, len(s.queue))
	out := s.queue[:n]
	s.queue = s.queue[n:]
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, ids...)
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]string{}
	}
	s.failed[id] = msg
	return nil
}

func (s *fakeStore) snapshot() ([]int64, map[int64]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.sent...), s.failed
}

func TestNewEventEncodesPayload(t *testing.T) {
	ev, err := NewEvent("order", "o-1", "order.placed", map[string]int{"qty": 2}, "00-abc-def-01")
	require.NoError(t, err)
	assert.JSONEq(t, `{"qty":2}`, string(ev.Payload))
	assert.Equal(t, StatusPending, ev.Status)

	_, err = NewEvent("order", "o-1", "order.placed", make(chan int), "")
	assert.Error(t, err)
}

func TestDispatcherMessage(t *testing.T) {
	d := NewDispatcher(discard, nil, "order.events")
	msg := d.Message(Event{AggregateID: "o-1", Type: "order.placed", Payload: []byte(`{}`), Traceparent: "tp", Headers: map[string]string{"source": "storefront"}})

	assert.Equal(t, "order.events", msg.Topic)
	assert.Equal(t, []byte("o-1"), msg.Key)
	headers := map[string]string{}
	for _, h := range msg.Headers {
		headers[h.Key] = string(h.Value)
	}
	assert.Equal(t, map[string]string{"source": "storefront", "event_type": "order.placed", "traceparent": "tp"}, headers)
}

func TestRelayDispatchesAndMarks(t *testing.T) {
	prod := &mockProducer{}
	prod.On("WriteMessages", mock.Anything, mock.MatchedBy(func(msgs []kafka.Message) bool {
		return string(msgs[0].Key) == "bad"
	})).Return(errors.New("broker down"))
	prod.On("WriteMessages", mock.Anything, mock.Anything).Return(nil)

	store := &fakeStore{queue: []Event{
		{ID: 1, AggregateID: "o-1", Type: "order.placed"},
		{ID: 2, AggregateID: "bad", Type: "order.placed"},
		{ID: 3, AggregateID: "o-3", Type: "order.cancelled"},
	}}
	relay := NewRelay(discard, store, NewDispatcher(discard, prod, "order.events"), "test", WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool {
		sent, failed := store.snapshot()
		return len(sent) == 2 && len(failed) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	sent, failed := store.snapshot()
	assert.ElementsMatch(t, []int64{1, 3}, sent)
	assert.Equal(t, "broker down", failed[2])
	prod.AssertNumberOfCalls(t, "WriteMessages", 3)
}

type cancellingProducer struct {
	cancel context.CancelFunc
	calls  int
}

func (p *cancellingProducer) WriteMessages(ctx context.Context, _ ...kafka.Message) error {
	p.calls++
	p.cancel()
	return ctx.Err()
}

func TestRelayShutdownDoesNotSpendRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	prod := &cancellingProducer{cancel: cancel}
	store := &fakeStore{queue: []Event{
		{ID: 1, AggregateID: "o-1", Type: "order.placed"},
		{ID: 2, AggregateID: "o-2", Type: "order.placed"},
	}}
	relay := NewRelay(discard, store, NewDispatcher(discard, prod, "order.events"), "test")

	relay.tick(ctx)

	sent, failed := store.snapshot()
	assert.Empty(t, sent)
	assert.Empty(t, failed)
	assert.Equal(t, 1, prod.calls)
}
