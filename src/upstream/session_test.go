package upstream

import (
	"encoding/json"
	"testing"
)

func TestEventFrame(t *testing.T) {
	ev := Event{
		Op:       0,
		Sequence: 5,
		Type:     "MESSAGE_CREATE",
		Data:     json.RawMessage(`{"id":"1","content":"hi"}`),
	}
	got := string(ev.Frame())
	want := `{"t":"MESSAGE_CREATE","s":5,"op":0,"d":{"id":"1","content":"hi"}}`
	if got != want {
		t.Fatalf("frame = %s, want %s", got, want)
	}
}

func TestSessionStartsDisconnected(t *testing.T) {
	s, err := New("token", 0, 1, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if s.Stage() != StageDisconnected {
		t.Fatalf("stage = %s, want disconnected", s.Stage())
	}
	if s.ShardID() != 0 {
		t.Fatalf("shard id = %d, want 0", s.ShardID())
	}
}
