package embedder

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/yungbote/docretrieval-backend/internal/platform/logger"
)

type fakeProvider struct {
	calls int32
	fn    func(text string) ([]float32, error)
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&f.calls, 1)
	return f.fn(text)
}

func constVec(v float32, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func equalVec(a, b []float32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestLocalEmbeddingDeterministic(t *testing.T) {
	a := LocalEmbedding("hello", 128)
	b := LocalEmbedding("hello", 128)
	if len(a) != 128 || !equalVec(a, b) {
		t.Fatalf("LocalEmbedding: not deterministic or wrong length %d", len(a))
	}
	// sha256("hello") starts with 0x2c = 44 -> (44-128)/128
	if want := float32(44-128) / 128; a[0] != want {
		t.Fatalf("LocalEmbedding[0]: want=%v got=%v", want, a[0])
	}
	// cycles every 32 bytes
	if a[32] != a[0] || a[127] != a[31] {
		t.Fatalf("LocalEmbedding: digest not repeated cyclically")
	}
	for _, v := range a {
		if v < -1 || v >= 1 {
			t.Fatalf("LocalEmbedding: value out of range %v", v)
		}
	}
	if equalVec(a, LocalEmbedding("hellp", 128)) {
		t.Fatalf("LocalEmbedding: different inputs produced the same vector")
	}
}

func TestEmbedUsesProviderWhenValid(t *testing.T) {
	p := &fakeProvider{fn: func(string) ([]float32, error) { return constVec(0.5, 128), nil }}
	e := New(logger.Nop(), p, Config{Enabled: true})
	if !e.IsEnabled() {
		t.Fatalf("IsEnabled: want true")
	}
	if got := e.Embed(context.Background(), "x"); got[0] != 0.5 {
		t.Fatalf("Embed: want provider vector got=%v", got[:4])
	}
}

func TestEmbedFallsBack(t *testing.T) {
	cases := map[string]func(string) ([]float32, error){
		"error":     func(string) ([]float32, error) { return nil, errors.New("boom") },
		"empty":     func(string) ([]float32, error) { return []float32{}, nil },
		"wrong dim": func(string) ([]float32, error) { return constVec(1, 64), nil },
	}
	for name, fn := range cases {
		e := New(logger.Nop(), &fakeProvider{fn: fn}, Config{Enabled: true})
		got := e.Embed(context.Background(), "text")
		if !equalVec(got, LocalEmbedding("text", 128)) {
			t.Fatalf("%s: want local embedding", name)
		}
	}
}

func TestDisabledNeverCallsProvider(t *testing.T) {
	p := &fakeProvider{fn: func(string) ([]float32, error) { return constVec(1, 128), nil }}
	e := New(logger.Nop(), p, Config{Enabled: false})
	if e.IsEnabled() {
		t.Fatalf("IsEnabled: want false")
	}
	_ = e.EmbedBatch(context.Background(), []string{"a", "b"})
	_ = e.Embed(context.Background(), "c")
	if p.calls != 0 {
		t.Fatalf("provider calls: want=0 got=%d", p.calls)
	}
	if New(logger.Nop(), nil, Config{Enabled: true}).IsEnabled() {
		t.Fatalf("IsEnabled without provider: want false")
	}
}

func TestEmbedBatchPreservesOrder(t *testing.T) {
	p := &fakeProvider{fn: func(text string) ([]float32, error) {
		var idx int
		if _, err := fmt.Sscanf(text, "t%d", &idx); err != nil {
			return nil, err
		}
		if idx%3 == 0 {
			return nil, errors.New("flaky")
		}
		return constVec(float32(idx), 128), nil
	}}
	e := New(logger.Nop(), p, Config{Enabled: true, Concurrency: 4})
	texts := make([]string, 20)
	for i := range texts {
		texts[i] = fmt.Sprintf("t%d", i)
	}
	out := e.EmbedBatch(context.Background(), texts)
	if len(out) != len(texts) {
		t.Fatalf("EmbedBatch: want=%d got=%d", len(texts), len(out))
	}
	for i, v := range out {
		if i%3 == 0 {
			if !equalVec(v, LocalEmbedding(texts[i], 128)) {
				t.Fatalf("EmbedBatch[%d]: want local fallback", i)
			}
			continue
		}
		if v[0] != float32(i) {
			t.Fatalf("EmbedBatch[%d]: want=%d got=%v", i, i, v[0])
		}
	}
}

func TestEmbedRateLimiterCanceledContextFallsBack(t *testing.T) {
	p := &fakeProvider{fn: func(string) ([]float32, error) { return constVec(1, 128), nil }}
	e := New(logger.Nop(), p, Config{Enabled: true, RateLimit: 0.001, Burst: 1})
	ctx, cancel := context.WithCancel(context.Background())
	_ = e.Embed(ctx, "first") // consumes the only token
	cancel()
	got := e.Embed(ctx, "second")
	if !equalVec(got, LocalEmbedding("second", 128)) {
		t.Fatalf("Embed with canceled ctx: want local embedding")
	}
	if p.calls != 1 {
		t.Fatalf("provider calls: want=1 got=%d", p.calls)
	}
}
