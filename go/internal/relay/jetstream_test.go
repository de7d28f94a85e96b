package relay

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/mcdev12/landauction/go/internal/events"
)

type fakeStream struct {
	mu       sync.Mutex
	failures int
	msgs     []*nats.Msg
	calls    int
}

func (f *fakeStream) PublishMsg(_ context.Context, msg *nats.Msg, _ ...jetstream.PublishOpt) (*jetstream.PubAck, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("no responders")
	}
	f.msgs = append(f.msgs, msg)
	return &jetstream.PubAck{Stream: "AUCTION_EVENTS", Sequence: uint64(len(f.msgs))}, nil
}

func (f *fakeStream) snapshot() ([]*nats.Msg, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*nats.Msg(nil), f.msgs...), f.calls
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetries = 3
	cfg.QueueSize = 2
	return cfg
}

func event(t *testing.T, typ events.EventType, seq uint64) events.Event {
	t.Helper()
	ev, err := events.New(typ, events.QuestionPayload{Question: "q"}, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	ev.Seq = seq
	return ev
}

func TestDeliverSetsSubjectAndHeaders(t *testing.T) {
	js := &fakeStream{}
	r := newRelay(js, testConfig())
	ev := event(t, events.EventTypeBidAccepted, 7)

	r.deliver(context.Background(), ev)

	msgs, _ := js.snapshot()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	m := msgs[0]
	if m.Subject != "auction.events.bid-accepted" {
		t.Errorf("subject = %q", m.Subject)
	}
	if got := m.Header.Get("Event-ID"); got != ev.ID {
		t.Errorf("Event-ID = %q, want %q", got, ev.ID)
	}
	if got := m.Header.Get("Event-Seq"); got != "7" {
		t.Errorf("Event-Seq = %q, want 7", got)
	}
	if got := m.Header.Get("Event-Type"); got != string(events.EventTypeBidAccepted) {
		t.Errorf("Event-Type = %q", got)
	}
}

func TestDeliverRetries(t *testing.T) {
	tests := []struct {
		name      string
		failures  int
		wantCalls int
		wantMsgs  int
	}{
		{"succeeds after failures", 2, 3, 1},
		{"gives up", 5, 3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			js := &fakeStream{failures: tt.failures}
			r := newRelay(js, testConfig())
			r.deliver(context.Background(), event(t, events.EventTypePlotChanged, 1))
			msgs, calls := js.snapshot()
			if calls != tt.wantCalls || len(msgs) != tt.wantMsgs {
				t.Fatalf("calls=%d msgs=%d, want %d and %d", calls, len(msgs), tt.wantCalls, tt.wantMsgs)
			}
		})
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	r := newRelay(&fakeStream{}, testConfig())
	for i := 0; i < 5; i++ {
		r.Publish(event(t, events.EventTypeStateChanged, uint64(i+1)))
	}
	if got := len(r.queue); got != 2 {
		t.Fatalf("queued %d events, want 2", got)
	}
}

func TestRunDrainsQueueInOrder(t *testing.T) {
	js := &fakeStream{}
	cfg := testConfig()
	cfg.QueueSize = 8
	r := newRelay(js, cfg)
	for i := 1; i <= 3; i++ {
		r.Publish(event(t, events.EventTypeStateChanged, uint64(i)))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		if msgs, _ := js.snapshot(); len(msgs) == 3 {
			for i, m := range msgs {
				if got := m.Header.Get("Event-Seq"); got != strconv.Itoa(i+1) {
					t.Fatalf("message %d seq = %s", i, got)
				}
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("queue was not drained")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := r.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
