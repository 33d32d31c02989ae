// Package server accepts downstream WebSocket connections and serves each one
// the cached world state followed by the live event stream of its shard.
package server

import (
	"crypto/sha1"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"manifold/src/logging"
	"manifold/src/shard"
)

const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// AcceptKey derives the Sec-WebSocket-Accept value for a handshake key.
func AcceptKey(key string) string {
	h := sha1.New()
	io.WriteString(h, key)
	io.WriteString(h, websocketGUID)
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// Server is the WebSocket endpoint. The handshake is done by hand on a
// hijacked connection; frame IO is handled by the client session.
type Server struct {
	shards map[int]*shard.Shard
}

func New(shards []*shard.Shard) *Server {
	byID := make(map[int]*shard.Shard, len(shards))
	for _, sh := range shards {
		byID[sh.ID] = sh
	}
	return &Server{shards: byID}
}

// ServeHTTP upgrades the connection and runs the client session until it
// ends. Handshake failures answer 400 over plain HTTP.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sh, err := s.pickShard(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if !strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		http.Error(w, "expected websocket upgrade", http.StatusBadRequest)
		return
	}
	key := r.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		http.Error(w, "missing Sec-WebSocket-Key", http.StatusBadRequest)
		return
	}

	compress := r.URL.Query().Get("compress") == "zlib-stream"

	hj, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "connection cannot be hijacked", http.StatusInternalServerError)
		return
	}
	conn, buf, err := hj.Hijack()
	if err != nil {
		logging.Log.WithError(err).Error("hijack failed")
		return
	}
	// Drop any deadline inherited from the HTTP server; the session manages
	// its own.
	_ = conn.SetDeadline(time.Time{})

	fmt.Fprintf(buf, "HTTP/1.1 101 Switching Protocols\r\n"+
		"Connection: Upgrade\r\n"+
		"Upgrade: websocket\r\n"+
		"Sec-WebSocket-Accept: %s\r\n"+
		"Sec-WebSocket-Version: 13\r\n\r\n", AcceptKey(key))
	if err := buf.Flush(); err != nil {
		_ = conn.Close()
		return
	}

	c := newClient(sh, conn, buf.Reader, compress, r.RemoteAddr)
	c.run()
}

func (s *Server) pickShard(r *http.Request) (*shard.Shard, error) {
	raw := r.URL.Query().Get("shard")
	if raw == "" {
		if sh, ok := s.shards[0]; ok {
			return sh, nil
		}
		return nil, fmt.Errorf("no default shard on this node")
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid shard id %q", raw)
	}
	sh, ok := s.shards[id]
	if !ok {
		return nil, fmt.Errorf("shard %d is not served by this node", id)
	}
	return sh, nil
}
