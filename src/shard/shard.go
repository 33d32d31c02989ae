// Package shard ties one upstream gateway connection to its replica, ready
// latch and broadcast bus, and runs the dispatch loop between them.
package shard

import (
	"strconv"

	"github.com/sirupsen/logrus"

	"manifold/src/bus"
	"manifold/src/cache"
	"manifold/src/concurrency"
	"manifold/src/logging"
	"manifold/src/upstream"
)

// Shard is the per-shard wiring: every downstream client attached to this
// shard replays from Cache and then follows Bus.
type Shard struct {
	ID       int
	Cache    *cache.GuildCache
	Bus      *bus.Bus
	Ready    *ReadyLatch
	Upstream *upstream.Session

	label string
	log   *logrus.Entry
	stop  chan struct{}
}

func New(id int, up *upstream.Session, busCapacity int) *Shard {
	return &Shard{
		ID:       id,
		Cache:    cache.New(),
		Bus:      bus.New(busCapacity),
		Ready:    NewReadyLatch(),
		Upstream: up,
		label:    strconv.Itoa(id),
		log:      logging.Log.WithField("shard", id),
		stop:     make(chan struct{}),
	}
}

// Start connects upstream and launches the dispatch and latency loops.
func (s *Shard) Start() error {
	if err := s.Upstream.Open(); err != nil {
		return err
	}
	concurrency.GoSafe("shard-dispatch-"+s.label, func() {
		s.Dispatch(s.Upstream.Events())
	})
	concurrency.GoSafe("shard-latency-"+s.label, func() {
		s.reportLatency()
	})
	s.log.Info("shard started")
	return nil
}

// Stop closes the upstream session; the dispatch loop drains and closes the
// bus, which disconnects the remaining clients.
func (s *Shard) Stop() {
	close(s.stop)
	if err := s.Upstream.Close(); err != nil {
		s.log.WithError(err).Warn("upstream close failed")
	}
	s.log.Info("shard stopped")
}
