package concurrency

import (
	"sync/atomic"
	"testing"
	"time"
)

// TestGoSafeRecovers ensures that a panic inside GoSafe does not crash the
// process and that subsequent goroutines can still run.
func TestGoSafeRecovers(t *testing.T) {
	var got int32

	GoSafe("panics", func() {
		panic("test-panic")
	})

	GoSafe("follow-up", func() {
		atomic.StoreInt32(&got, 1)
	})

	start := time.Now()
	for time.Since(start) < time.Second {
		if atomic.LoadInt32(&got) > 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected follow-up goroutine to run after recovered panic")
}
