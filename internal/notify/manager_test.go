package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingAdapter struct {
	mu    sync.Mutex
	calls int
	fail  bool
	got   []Notification
}

func (a *recordingAdapter) Name() string { return "rec" }

func (a *recordingAdapter) Send(_ context.Context, n Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls++
	if a.fail {
		return errors.New("failed")
	}
	a.got = append(a.got, n)
	return nil
}

func (a *recordingAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotifyDeliversAndDefaultsEvent(t *testing.T) {
	adapter := &recordingAdapter{}
	m := NewManager(Config{Enabled: true, Workers: 1}, adapter)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.Notify(ctx, Notification{SessionID: "s1", Result: "WHITE_WON"})
	waitFor(t, func() bool { return adapter.Calls() == 1 })

	adapter.mu.Lock()
	defer adapter.mu.Unlock()
	if len(adapter.got) != 1 || adapter.got[0].Event != EventMatchEnded {
		t.Fatalf("unexpected deliveries: %+v", adapter.got)
	}
}

func TestRetryStopsAtMaxAttempts(t *testing.T) {
	adapter := &recordingAdapter{fail: true}
	m := NewManager(Config{Enabled: true, Workers: 1, RetryMax: 1, RetryBase: 5 * time.Millisecond, FailureThreshold: 10}, adapter)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.Notify(ctx, Notification{SessionID: "s1"})
	time.Sleep(120 * time.Millisecond)
	if got := adapter.Calls(); got != 2 {
		t.Fatalf("expected 2 calls (initial + 1 retry), got %d", got)
	}
}

func TestCircuitOpenSkipsSubsequentSends(t *testing.T) {
	adapter := &recordingAdapter{fail: true}
	m := NewManager(Config{
		Enabled:             true,
		Workers:             1,
		RetryMax:            0,
		FailureThreshold:    1,
		CircuitOpenDuration: 500 * time.Millisecond,
	}, adapter)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := m.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	m.Notify(ctx, Notification{SessionID: "s1"})
	time.Sleep(40 * time.Millisecond)
	m.Notify(ctx, Notification{SessionID: "s2"})
	time.Sleep(40 * time.Millisecond)
	if got := adapter.Calls(); got != 1 {
		t.Fatalf("expected breaker to block the second send, got %d calls", got)
	}
}

func TestNotifyDropsWhenQueueFull(t *testing.T) {
	adapter := &recordingAdapter{}
	m := NewManager(Config{Enabled: true, DispatchBuffer: 1}, adapter)
	// Not started: nothing drains the queue.
	before := metricNotifyDroppedTotal.Value()
	m.Notify(context.Background(), Notification{SessionID: "s1"})
	m.Notify(context.Background(), Notification{SessionID: "s2"})
	if got := metricNotifyDroppedTotal.Value() - before; got != 1 {
		t.Fatalf("expected one drop, got %d", got)
	}
}

func TestDisabledManagerIgnoresNotify(t *testing.T) {
	adapter := &recordingAdapter{}
	m := NewManager(Config{}, adapter)
	m.Notify(context.Background(), Notification{SessionID: "s1"})
	if len(m.dispatchCh) != 0 {
		t.Fatalf("expected nothing queued")
	}
}

func TestLogAdapterWritesFields(t *testing.T) {
	var buf bytes.Buffer
	a := NewLogAdapter(zerolog.New(&buf))
	if err := a.Send(context.Background(), Notification{Event: EventMatchEnded, SessionID: "s9", Result: "DRAW"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"session_id":"s9"`) || !strings.Contains(out, `"result":"DRAW"`) {
		t.Fatalf("unexpected log line: %s", out)
	}
}

func TestKafkaMessageKeyedBySession(t *testing.T) {
	msg, err := kafkaMessage(Notification{Event: EventMatchEnded, SessionID: "s7", Stake: 5})
	if err != nil {
		t.Fatalf("kafkaMessage: %v", err)
	}
	if string(msg.Key) != "s7" {
		t.Fatalf("unexpected key %q", msg.Key)
	}
	var decoded Notification
	if err := json.Unmarshal(msg.Value, &decoded); err != nil {
		t.Fatalf("decode value: %v", err)
	}
	if decoded.Stake != 5 || decoded.Event != EventMatchEnded {
		t.Fatalf("unexpected payload: %+v", decoded)
	}
}
