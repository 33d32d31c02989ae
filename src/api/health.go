// Package api holds the plain HTTP endpoints next to the gateway socket.
package api

import (
	"net/http"
	"time"

	"manifold/src/cache"
	"manifold/src/server"
	"manifold/src/shard"
	"manifold/src/utils"
	"manifold/src/version"
)

// ShardHealth is the per-shard slice of the health report.
type ShardHealth struct {
	ID        int         `json:"id"`
	Stage     string      `json:"stage"`
	LatencyMS int64       `json:"latency_ms"`
	Clients   int         `json:"clients"`
	Cache     cache.Stats `json:"cache"`
}

// Health is the /healthz response body.
type Health struct {
	Version   string        `json:"version"`
	Uptime    string        `json:"uptime"`
	SendP99MS int64         `json:"ws_send_p99_ms"`
	Shards    []ShardHealth `json:"shards"`
}

// HealthHandler reports process and per-shard status.
func HealthHandler(shards []*shard.Shard, start time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := Health{
			Version:   version.Version,
			Uptime:    time.Since(start).Truncate(time.Second).String(),
			SendP99MS: server.MessageP99().Milliseconds(),
			Shards:    make([]ShardHealth, 0, len(shards)),
		}
		for _, sh := range shards {
			h := ShardHealth{
				ID:      sh.ID,
				Clients: sh.Bus.SubscriberCount(),
				Cache:   sh.Cache.Stats(),
			}
			if sh.Upstream != nil {
				h.Stage = sh.Upstream.Stage().String()
				h.LatencyMS = sh.Upstream.Latency().Milliseconds()
			}
			resp.Shards = append(resp.Shards, h)
		}
		utils.WriteJSON(w, http.StatusOK, resp)
	}
}
