package shard

import (
	"context"
	"testing"
	"time"
)

func TestReadyLatchBlocksUntilSet(t *testing.T) {
	l := NewReadyLatch()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatalf("wait returned before set")
	}

	l.Set(map[string]any{"session_id": "abc"})
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("wait after set: %v", err)
	}
	if l.Template()["session_id"] != "abc" {
		t.Fatalf("template = %+v", l.Template())
	}
}

func TestReadyLatchReconnectOverwritesTemplate(t *testing.T) {
	l := NewReadyLatch()
	l.Set(map[string]any{"session_id": "first"})
	l.Set(map[string]any{"session_id": "second"})

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if l.Template()["session_id"] != "second" {
		t.Fatalf("template = %+v, want second session", l.Template())
	}
}
