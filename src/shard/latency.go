package shard

import (
	"math"
	"time"

	"manifold/src/metrics"
)

const latencyReportInterval = time.Minute

// reportLatency samples the upstream heartbeat latency and connection stage
// once a minute. A shard with no ACK yet records NaN rather than a bogus zero.
func (s *Shard) reportLatency() {
	ticker := time.NewTicker(latencyReportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			metrics.ShardStatus.WithLabelValues(s.label).Observe(s.Upstream.Stage().MetricValue())

			latency := math.NaN()
			if rtt := s.Upstream.Latency(); rtt > 0 {
				latency = rtt.Seconds()
			}
			metrics.ShardLatency.WithLabelValues(s.label).Observe(latency)
		}
	}
}
