package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

type flakyProbe struct {
	mu  sync.Mutex
	err error
}

func (f *flakyProbe) set(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *flakyProbe) probe(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func TestCheckAll_degradesAtThreshold(t *testing.T) {
	h := New(Config{FailThreshold: 2}, zap.NewNop())
	db := &flakyProbe{}
	h.Add("backend", db.probe)
	h.Add("redis", func(context.Context) error { return nil })

	ctx := context.Background()
	db.set(errors.New("connection refused"))

	h.CheckAll(ctx)
	if ok, _ := h.Ready(); !ok {
		t.Fatal("one failure should not degrade")
	}

	h.CheckAll(ctx)
	ok, down := h.Ready()
	if ok || len(down) != 1 || down[0] != "backend" {
		t.Fatalf("Ready() = %v %v, want backend degraded", ok, down)
	}
	if st := h.Status(); st["redis"] != StatusHealthy || st["backend"] != StatusDegraded {
		t.Errorf("Status() = %v", st)
	}

	db.set(nil)
	h.CheckAll(ctx)
	if ok, _ := h.Ready(); !ok {
		t.Error("expected recovery after one success")
	}
}

func TestCheckAll_probeTimeout(t *testing.T) {
	h := New(Config{FailThreshold: 1, ProbeTimeout: 20 * time.Millisecond}, zap.NewNop())
	h.Add("slow", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	h.CheckAll(context.Background())
	if ok, _ := h.Ready(); ok {
		t.Error("expected timed-out probe to degrade")
	}
}

func TestMetricsCallback(t *testing.T) {
	h := New(Config{}, zap.NewNop())
	h.Add("nats", func(context.Context) error { return errors.New("down") })

	var mu sync.Mutex
	got := map[string]bool{}
	h.SetMetricsRecord(func(name string, healthy bool) {
		mu.Lock()
		got[name] = healthy
		mu.Unlock()
	})

	h.CheckAll(context.Background())
	if healthy, ok := got["nats"]; !ok || healthy {
		t.Errorf("metrics callback = %v", got)
	}
}

func TestRun_stopsOnCancel(t *testing.T) {
	h := New(Config{CheckInterval: time.Millisecond}, zap.NewNop())
	calls := make(chan struct{}, 100)
	h.Add("backend", func(context.Context) error {
		select {
		case calls <- struct{}{}:
		default:
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()

	<-calls
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
