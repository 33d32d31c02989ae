package concurrency

import (
	"runtime/debug"

	"manifold/src/logging"
)

// GoSafe runs fn in a new goroutine and recovers from panics, logging the
// panic value and stack under the given task name. A panicking dispatcher or
// client task must never take the whole proxy down with it.
func GoSafe(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logging.Log.WithFields(map[string]any{
					"task":  name,
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("recovered panic in background goroutine")
			}
		}()
		fn()
	}()
}
