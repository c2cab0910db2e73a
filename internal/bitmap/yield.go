package bitmap

import "runtime"

// yield gives other goroutines a chance to run during a bounded busy-wait.
// Mirrors the teacher's runtime.Gosched() spin in its disabled scavenger
// poll loop (main/scavenger_monitor.go).
func yield() {
	runtime.Gosched()
}
