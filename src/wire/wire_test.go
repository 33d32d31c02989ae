package wire

import (
	"errors"
	"strconv"
	"testing"
)

func TestScanDispatchFrame(t *testing.T) {
	frame := []byte(`{"t":"MESSAGE_CREATE","s":42,"op":0,"d":{"id":"123","content":"hi"}}`)
	f, err := Scan(frame)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if f.Op != 0 {
		t.Fatalf("op = %d, want 0", f.Op)
	}
	if f.EventType == nil || f.EventType.EventType != "MESSAGE_CREATE" {
		t.Fatalf("event type = %+v, want MESSAGE_CREATE", f.EventType)
	}
	if f.Sequence == nil || f.Sequence.Sequence != 42 {
		t.Fatalf("sequence = %+v, want 42", f.Sequence)
	}
}

func TestScanKeyOrderIndependent(t *testing.T) {
	frames := [][]byte{
		[]byte(`{"op":0,"s":7,"t":"GUILD_CREATE","d":{}}`),
		[]byte(`{"d":{},"t":"GUILD_CREATE","s":7,"op":0}`),
		[]byte(`{"s":7,"d":{},"op":0,"t":"GUILD_CREATE"}`),
	}
	for _, frame := range frames {
		f, err := Scan(frame)
		if err != nil {
			t.Fatalf("scan %s: %v", frame, err)
		}
		if f.Op != 0 || f.Sequence == nil || f.Sequence.Sequence != 7 ||
			f.EventType == nil || f.EventType.EventType != "GUILD_CREATE" {
			t.Fatalf("scan %s: got %+v", frame, f)
		}
	}
}

func TestScanSequenceSpan(t *testing.T) {
	frame := []byte(`{"op":0,"s":1000,"t":"MESSAGE_CREATE","d":null}`)
	f, err := Scan(frame)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if f.Sequence == nil {
		t.Fatalf("expected sequence info")
	}
	if got := string(frame[f.Sequence.Start:f.Sequence.End]); got != "1000" {
		t.Fatalf("sequence span = %q, want 1000", got)
	}

	// Splicing a new value into the reported span must leave everything
	// else untouched.
	out := append([]byte{}, frame[:f.Sequence.Start]...)
	out = strconv.AppendInt(out, 3, 10)
	out = append(out, frame[f.Sequence.End:]...)
	if string(out) != `{"op":0,"s":3,"t":"MESSAGE_CREATE","d":null}` {
		t.Fatalf("spliced frame = %s", out)
	}
}

func TestScanNullSequenceAndType(t *testing.T) {
	f, err := Scan([]byte(`{"op":11,"s":null,"t":null,"d":null}`))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if f.Op != 11 || f.Sequence != nil || f.EventType != nil {
		t.Fatalf("got %+v, want op=11 and nil s/t", f)
	}
}

func TestScanSkipsLargeBody(t *testing.T) {
	// The body holds keys named op/s/t; they must not confuse the scanner.
	frame := []byte(`{"d":{"op":99,"s":99,"t":"NOPE","nested":[{"t":"x"},[1,2,{"s":5}]],"str":"a\"b}{]["},"op":0,"s":3,"t":"REAL"}`)
	f, err := Scan(frame)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if f.Op != 0 || f.Sequence == nil || f.Sequence.Sequence != 3 ||
		f.EventType == nil || f.EventType.EventType != "REAL" {
		t.Fatalf("got %+v", f)
	}
}

func TestScanMissingOp(t *testing.T) {
	for _, frame := range []string{`{"s":1,"t":"READY","d":{}}`, `{"op":null,"d":{}}`} {
		if _, err := Scan([]byte(frame)); !errors.Is(err, ErrMissingOp) {
			t.Fatalf("scan %s: err = %v, want ErrMissingOp", frame, err)
		}
	}
}

func TestScanMalformed(t *testing.T) {
	for _, frame := range []string{``, `[]`, `"hello"`, `42`, `{"op":`, `{"op" 0}`, `{op:0}`} {
		if _, err := Scan([]byte(frame)); !errors.Is(err, ErrMalformedFrame) {
			t.Fatalf("scan %q: err = %v, want ErrMalformedFrame", frame, err)
		}
	}
}

func TestScanEscapedEventType(t *testing.T) {
	f, err := Scan([]byte(`{"op":0,"t":"A\u005FB","d":null}`))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if f.EventType == nil || f.EventType.EventType != "A_B" {
		t.Fatalf("event type = %+v, want A_B", f.EventType)
	}
}

func BenchmarkScanLargeFrame(b *testing.B) {
	body := make([]byte, 0, 64*1024)
	body = append(body, `{"op":0,"s":123456,"t":"GUILD_CREATE","d":{"members":[`...)
	for i := 0; i < 1000; i++ {
		if i > 0 {
			body = append(body, ',')
		}
		body = append(body, `{"user":{"id":"1234567890","username":"someone"}}`...)
	}
	body = append(body, `]}}`...)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Scan(body); err != nil {
			b.Fatal(err)
		}
	}
}
