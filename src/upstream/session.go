// Package upstream owns the single real gateway connection of a shard. It
// wraps a discordgo session configured as a transparent pipe: state tracking
// off, events delivered in gateway order, every dispatch forwarded raw so the
// proxy relays exactly the bytes Discord sent.
package upstream

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"manifold/src/logging"
)

// eventBuffer absorbs dispatch bursts (GUILD_CREATE storms after identify)
// between the gateway reader and the shard dispatcher.
const eventBuffer = 256

// Event is one raw dispatch event from the gateway.
type Event struct {
	Op       int
	Sequence int64
	Type     string
	Data     json.RawMessage
}

// Frame renders the event back into gateway frame shape. discordgo hands the
// d value through untouched, so the body is byte-for-byte what Discord sent.
func (e Event) Frame() []byte {
	frame := struct {
		T  string          `json:"t"`
		S  int64           `json:"s"`
		Op int             `json:"op"`
		D  json.RawMessage `json:"d"`
	}{T: e.Type, S: e.Sequence, Op: e.Op, D: e.Data}
	b, err := json.Marshal(frame)
	if err != nil {
		// json.RawMessage plus scalars cannot fail to marshal unless the
		// raw data itself is invalid, which discordgo already rejected.
		logging.Log.WithError(err).Error("failed to render gateway frame")
		return nil
	}
	return b
}

// Session is one shard's upstream connection.
type Session struct {
	shardID int
	sess    *discordgo.Session
	events  chan Event
	stage   atomic.Int32
	closed  sync.Once
	log     *logrus.Entry
}

// New builds the session without connecting. intents of zero falls back to
// all non-privileged intents.
func New(token string, shardID, shardCount, intents int) (*Session, error) {
	sess, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, err
	}

	sess.SyncEvents = true // dispatch order must match gateway order
	sess.StateEnabled = false
	sess.ShardID = shardID
	sess.ShardCount = shardCount
	if intents != 0 {
		sess.Identify.Intents = discordgo.Intent(intents)
	} else {
		sess.Identify.Intents = discordgo.IntentsAllWithoutPrivileged
	}

	s := &Session{
		shardID: shardID,
		sess:    sess,
		events:  make(chan Event, eventBuffer),
		log:     logging.Log.WithField("shard", shardID),
	}

	sess.AddHandler(func(_ *discordgo.Session, ev *discordgo.Event) {
		if ev == nil || ev.Operation != 0 {
			return
		}
		s.events <- Event{
			Op:       ev.Operation,
			Sequence: ev.Sequence,
			Type:     ev.Type,
			Data:     ev.RawData,
		}
	})

	sess.AddHandler(func(*discordgo.Session, *discordgo.Connect) {
		s.setStage(StageIdentifying)
		s.log.Debug("upstream socket connected")
	})
	sess.AddHandler(func(*discordgo.Session, *discordgo.Disconnect) {
		// discordgo reconnects on its own; until it succeeds the shard
		// counts as resuming.
		s.setStage(StageResuming)
		s.log.Warn("upstream socket disconnected")
	})
	sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		s.setStage(StageConnected)
		s.log.WithFields(logrus.Fields{
			"session_id": r.SessionID,
			"guilds":     len(r.Guilds),
		}).Info("upstream session ready")
	})
	sess.AddHandler(func(*discordgo.Session, *discordgo.Resumed) {
		s.setStage(StageConnected)
		s.log.Info("upstream session resumed")
	})

	return s, nil
}

// Open connects to the gateway and identifies.
func (s *Session) Open() error {
	s.setStage(StageHandshaking)
	if err := s.sess.Open(); err != nil {
		s.setStage(StageDisconnected)
		return err
	}
	return nil
}

// Close tears the connection down and closes the event channel.
func (s *Session) Close() error {
	err := s.sess.Close()
	s.setStage(StageDisconnected)
	s.closed.Do(func() { close(s.events) })
	return err
}

// Events is the ordered stream of raw dispatch events. It closes when the
// session does.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Latency is the most recent heartbeat round trip. Zero before the first ACK.
func (s *Session) Latency() time.Duration {
	return s.sess.HeartbeatLatency()
}

func (s *Session) Stage() Stage {
	return Stage(s.stage.Load())
}

func (s *Session) ShardID() int {
	return s.shardID
}

func (s *Session) setStage(st Stage) {
	s.stage.Store(int32(st))
}
