package bus

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryBusDeliversToChannelSubscribers(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, unsub, err := b.Subscribe(ctx, "job:1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer unsub()
	other, unsubOther, _ := b.Subscribe(ctx, "job:2")
	defer unsubOther()

	msg, err := NewMessage("job:1", "progress", map[string]any{"progress": 0.5})
	if err != nil {
		t.Fatalf("NewMessage: %v", err)
	}
	if err := b.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case got := <-ch:
		var data map[string]float64
		_ = json.Unmarshal(got.Data, &data)
		if got.Event != "progress" || data["progress"] != 0.5 {
			t.Fatalf("message: got=%+v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}
	select {
	case got := <-other:
		t.Fatalf("other channel received %+v", got)
	default:
	}
}

func TestMemoryBusUnsubscribeClosesChannel(t *testing.T) {
	b := NewMemoryBus()
	ctx, cancel := context.WithCancel(context.Background())
	ch, _, _ := b.Subscribe(ctx, "job:1")
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("want closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("channel not closed after ctx cancel")
	}
	if err := b.Publish(context.Background(), Message{Channel: "job:1"}); err != nil {
		t.Fatalf("Publish after unsubscribe: %v", err)
	}
}
