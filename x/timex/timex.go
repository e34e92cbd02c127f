package timex

import "time"

var start = time.Now()

// NowMs returns Unix milliseconds as int64.
func NowMs() int64 { return time.Now().UnixMilli() }

// UptimeS returns whole seconds elapsed since process start.
func UptimeS() int64 { return int64(time.Since(start) / time.Second) }
