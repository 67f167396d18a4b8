package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type fakeStore struct {
	pending []Event
	sent    []int64
	failed  map[int64]string
}

func (f *fakeStore) LockBatch(_ context.Context, _ string, batchSize int, _ time.Duration) ([]Event, error) {
	if len(f.pending) > batchSize {
		return f.pending[:batchSize], nil
	}
	return f.pending, nil
}

func (f *fakeStore) MarkSent(_ context.Context, ids []int64) error {
	f.sent = append(f.sent, ids...)
	return nil
}

func (f *fakeStore) MarkFailed(_ context.Context, id int64, errMsg string) error {
	if f.failed == nil {
		f.failed = map[int64]string{}
	}
	f.failed[id] = errMsg
	return nil
}

func (f *fakeStore) ExtendLease(_ context.Context, _ string, _ []int64, _ time.Duration) error {
	return nil
}

type fakeProducer struct {
	msgs    []kafka.Message
	failKey string
}

func (f *fakeProducer) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		if f.failKey != "" && string(m.Key) == f.failKey {
			return errors.New("broker unavailable")
		}
		f.msgs = append(f.msgs, m)
	}
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRelayDispatchesBatch(t *testing.T) {
	store := &fakeStore{pending: []Event{
		{ID: 1, AggregateID: "o1", Type: "OrderCreated", Payload: []byte(`{}`), Traceparent: "00-abc-def-01"},
		{ID: 2, AggregateID: "o2", Type: "OrderClosed", Payload: []byte(`{}`)},
	}}
	producer := &fakeProducer{}
	relay := NewRelay(testLogger(), store, NewDispatcher(testLogger(), producer, "order-events"), "relay-1")

	if err := relay.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(producer.msgs) != 2 {
		t.Fatalf("dispatched %d messages, want 2", len(producer.msgs))
	}
	if got := string(producer.msgs[0].Key); got != "o1" {
		t.Errorf("message key = %q, want o1", got)
	}
	if len(store.sent) != 2 || store.sent[0] != 1 || store.sent[1] != 2 {
		t.Errorf("marked sent = %v, want [1 2]", store.sent)
	}
	if got := headerValue(producer.msgs[0].Headers, "event_type"); got != "OrderCreated" {
		t.Errorf("event_type header = %q", got)
	}
	if got := headerValue(producer.msgs[0].Headers, "traceparent"); got != "00-abc-def-01" {
		t.Errorf("traceparent header = %q", got)
	}
}

func TestRelayMarksFailedAndContinues(t *testing.T) {
	store := &fakeStore{pending: []Event{
		{ID: 1, AggregateID: "bad", Type: "OrderCreated", Payload: []byte(`{}`)},
		{ID: 2, AggregateID: "good", Type: "OrderClosed", Payload: []byte(`{}`)},
	}}
	producer := &fakeProducer{failKey: "bad"}
	relay := NewRelay(testLogger(), store, NewDispatcher(testLogger(), producer, "order-events"), "relay-1")

	if err := relay.tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}

	if len(store.sent) != 1 || store.sent[0] != 2 {
		t.Errorf("marked sent = %v, want [2]", store.sent)
	}
	if _, ok := store.failed[1]; !ok {
		t.Errorf("event 1 not marked failed: %v", store.failed)
	}
}

func headerValue(h []kafka.Header, key string) string {
	for _, hh := range h {
		if hh.Key == key {
			return string(hh.Value)
		}
	}
	return ""
}
