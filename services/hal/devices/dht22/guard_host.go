//go:build !rp2040 && !rp2350

package dht22dev

import (
	"runtime"
	"runtime/debug"
)

// guardJitter pins the reading goroutine to its OS thread and parks the
// collector for the duration of one transaction; a GC pause or thread
// migration mid-frame reads back as a timeout. The returned func restores
// both.
func guardJitter() func() {
	runtime.LockOSThread()
	prev := debug.SetGCPercent(-1)
	return func() {
		debug.SetGCPercent(prev)
		runtime.UnlockOSThread()
	}
}
