package upstream

import "math"

// Stage is the lifecycle phase of the upstream gateway connection.
type Stage int32

const (
	StageDisconnected Stage = iota
	StageHandshaking
	StageIdentifying
	StageResuming
	StageConnected
)

func (s Stage) String() string {
	switch s {
	case StageDisconnected:
		return "disconnected"
	case StageHandshaking:
		return "handshaking"
	case StageIdentifying:
		return "identifying"
	case StageResuming:
		return "resuming"
	case StageConnected:
		return "connected"
	}
	return "unknown"
}

// MetricValue maps the stage onto the fixed scale recorded by the
// gateway_shard_status histogram. Unknown stages record as NaN.
func (s Stage) MetricValue() float64 {
	switch s {
	case StageDisconnected:
		return 0
	case StageHandshaking:
		return 1
	case StageIdentifying:
		return 2
	case StageResuming:
		return 3
	case StageConnected:
		return 4
	}
	return math.NaN()
}
