package shard

import (
	"encoding/json"

	"manifold/src/bus"
	"manifold/src/metrics"
	"manifold/src/upstream"
	"manifold/src/wire"
)

// Dispatch consumes the upstream event stream until it closes, folding every
// event into the replica and relaying dispatch frames onto the bus. READY and
// RESUMED are intercepted: clients get a synthetic READY built from the
// cached template instead, so an upstream reconnect is invisible downstream.
func (s *Shard) Dispatch(events <-chan upstream.Event) {
	defer s.Bus.Close()

	for ev := range events {
		frame := ev.Frame()
		if frame == nil {
			continue
		}
		f, err := wire.Scan(frame)
		if err != nil {
			s.log.WithError(err).Trace("unscannable gateway frame")
			continue
		}

		if f.EventType != nil {
			name := f.EventType.EventType
			metrics.ShardEvents.WithLabelValues(s.label, name).Inc()

			if err := s.Cache.Apply(name, ev.Data); err != nil {
				s.log.WithError(err).WithField("event", name).Warn("cache update failed")
			}

			switch name {
			case "READY":
				s.storeReadyTemplate(ev.Data)
				continue
			case "RESUMED":
				// Downstream sessions never resumed; swallow it.
				continue
			}
		}

		if f.Op == 0 {
			s.Bus.Publish(bus.Message{Frame: frame, Sequence: f.Sequence})
		}
	}
}

// storeReadyTemplate keeps the READY body with its guild list emptied. Replays
// splice in unavailable stubs for whatever the replica holds at that moment.
func (s *Shard) storeReadyTemplate(data []byte) {
	var template map[string]any
	if err := json.Unmarshal(data, &template); err != nil {
		s.log.WithError(err).Error("unparseable READY body")
		return
	}
	template["guilds"] = []any{}
	s.Ready.Set(template)
	s.log.Info("ready template stored")
}
