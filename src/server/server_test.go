package server

import (
	"compress/zlib"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"manifold/src/shard"
	"manifold/src/upstream"
	"manifold/src/wire"
)

func TestAcceptKey(t *testing.T) {
	// Sample handshake from RFC 6455 section 1.3.
	got := AcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("accept key = %q, want %q", got, want)
	}
}

func newTestShard(t *testing.T) (*shard.Shard, chan upstream.Event) {
	t.Helper()
	sh := shard.New(0, nil, 64)
	events := make(chan upstream.Event, 16)
	go sh.Dispatch(events)

	events <- upstream.Event{Op: 0, Sequence: 1, Type: "READY",
		Data: json.RawMessage(`{"v":10,"session_id":"abc","user":{"id":"9"},"guilds":[]}`)}
	events <- upstream.Event{Op: 0, Sequence: 2, Type: "GUILD_CREATE",
		Data: json.RawMessage(`{"id":"81","name":"g","owner_id":"9","member_count":1,"channels":[{"id":"81","type":0}],"members":[{"user":{"id":"9","username":"bot"}}],"roles":[],"voice_states":[]}`)}
	return sh, events
}

func TestServeHTTPRejectsBadHandshakes(t *testing.T) {
	sh, events := newTestShard(t)
	defer close(events)
	ts := httptest.NewServer(New([]*shard.Shard{sh}))
	defer ts.Close()

	cases := map[string]func(*http.Request){
		"no upgrade headers": func(r *http.Request) {},
		"wrong upgrade": func(r *http.Request) {
			r.Header.Set("Upgrade", "h2c")
			r.Header.Set("Connection", "Upgrade")
			r.Header.Set("Sec-WebSocket-Key", "dGhlIHNhbXBsZSBub25jZQ==")
		},
		"missing key": func(r *http.Request) {
			r.Header.Set("Upgrade", "websocket")
			r.Header.Set("Connection", "Upgrade")
		},
	}
	for name, prepare := range cases {
		req, _ := http.NewRequest(http.MethodGet, ts.URL, nil)
		prepare(req)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: status = %d, want 400", name, resp.StatusCode)
		}
	}
}

func TestServeHTTPRejectsUnknownShard(t *testing.T) {
	sh, events := newTestShard(t)
	defer close(events)
	ts := httptest.NewServer(New([]*shard.Shard{sh}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?shard=7"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatalf("dial to unknown shard succeeded")
	}
	if resp == nil || resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("resp = %+v, want 400", resp)
	}
}

type frameHeader struct {
	T  string          `json:"t"`
	S  int64           `json:"s"`
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

func readFrame(t *testing.T, conn *websocket.Conn) frameHeader {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var f frameHeader
	if err := json.Unmarshal(data, &f); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return f
}

func TestClientReplayAndLiveSequences(t *testing.T) {
	sh, events := newTestShard(t)
	ts := httptest.NewServer(New([]*shard.Shard{sh}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?shard=0"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ready := readFrame(t, conn)
	if ready.T != "READY" || ready.S != 1 {
		t.Fatalf("first frame = %+v, want READY s=1", ready)
	}
	var readyBody struct {
		SessionID string `json:"session_id"`
		Guilds    []struct {
			ID          string `json:"id"`
			Unavailable bool   `json:"unavailable"`
		} `json:"guilds"`
	}
	if err := json.Unmarshal(ready.D, &readyBody); err != nil {
		t.Fatalf("ready body: %v", err)
	}
	if readyBody.SessionID != "abc" {
		t.Fatalf("ready body = %+v", readyBody)
	}
	if len(readyBody.Guilds) != 1 || !readyBody.Guilds[0].Unavailable {
		t.Fatalf("ready guilds = %+v, want one unavailable stub", readyBody.Guilds)
	}

	guild := readFrame(t, conn)
	if guild.T != "GUILD_CREATE" || guild.S != 2 {
		t.Fatalf("second frame = %+v, want GUILD_CREATE s=2", guild)
	}

	// Live events resume the client sequence regardless of upstream numbers.
	for i, upstreamSeq := range []int64{1000, 1005, 1007} {
		events <- upstream.Event{Op: 0, Sequence: upstreamSeq, Type: "MESSAGE_CREATE",
			Data: json.RawMessage(`{"id":"1"}`)}
		f := readFrame(t, conn)
		if f.T != "MESSAGE_CREATE" || f.S != int64(3+i) {
			t.Fatalf("live frame = %+v, want MESSAGE_CREATE s=%d", f, 3+i)
		}
	}

	// Heartbeats are acknowledged locally.
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"op":1,"d":3}`)); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}
	ack := readFrame(t, conn)
	if ack.Op != 11 {
		t.Fatalf("heartbeat reply = %+v, want op 11", ack)
	}

	// Shard shutdown closes the session with 1001.
	close(events)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) || closeErr.Code != websocket.CloseGoingAway {
		t.Fatalf("err = %v, want close 1001", err)
	}
}

func TestClientZlibStream(t *testing.T) {
	sh, events := newTestShard(t)
	defer close(events)
	ts := httptest.NewServer(New([]*shard.Shard{sh}))
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/?shard=0&compress=zlib-stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// All messages share one deflate stream, flushed per message; pipe them
	// into a single streaming reader.
	pr, pw := io.Pipe()
	go func() {
		defer pw.Close()
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt != websocket.BinaryMessage {
				pw.CloseWithError(io.ErrUnexpectedEOF)
				return
			}
			if _, err := pw.Write(data); err != nil {
				return
			}
		}
	}()

	zr, err := zlib.NewReader(pr)
	if err != nil {
		t.Fatalf("zlib reader: %v", err)
	}
	dec := json.NewDecoder(zr)

	var ready frameHeader
	if err := dec.Decode(&ready); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if ready.T != "READY" || ready.S != 1 {
		t.Fatalf("first frame = %+v, want READY s=1", ready)
	}
	var guild frameHeader
	if err := dec.Decode(&guild); err != nil {
		t.Fatalf("decode guild: %v", err)
	}
	if guild.T != "GUILD_CREATE" || guild.S != 2 {
		t.Fatalf("second frame = %+v, want GUILD_CREATE s=2", guild)
	}
}

func TestRewriteSequence(t *testing.T) {
	frame := []byte(`{"t":"MESSAGE_CREATE","s":1000,"op":0,"d":{}}`)
	f, err := wire.Scan(frame)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	out := rewriteSequence(frame, f.Sequence, 3)
	if string(out) != `{"t":"MESSAGE_CREATE","s":3,"op":0,"d":{}}` {
		t.Fatalf("rewritten = %s", out)
	}
	if string(rewriteSequence(frame, nil, 3)) != string(frame) {
		t.Fatalf("frame without sequence info changed")
	}
}
