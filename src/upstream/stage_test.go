package upstream

import (
	"math"
	"testing"
)

func TestStageMetricValues(t *testing.T) {
	cases := map[Stage]float64{
		StageDisconnected: 0,
		StageHandshaking:  1,
		StageIdentifying:  2,
		StageResuming:     3,
		StageConnected:    4,
	}
	for stage, want := range cases {
		if got := stage.MetricValue(); got != want {
			t.Fatalf("%s metric value = %v, want %v", stage, got, want)
		}
	}
	if v := Stage(99).MetricValue(); !math.IsNaN(v) {
		t.Fatalf("unknown stage metric value = %v, want NaN", v)
	}
}
