//go:build rp2040 || rp2350

package dht22dev

// guardJitter is a no-op here: scheduling is cooperative and the collector
// only runs on allocation, which the read path avoids.
func guardJitter() func() { return func() {} }
