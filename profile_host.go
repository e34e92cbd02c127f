//go:build !rp2040 && !rp2350

package main

const (
	profileName = "host"
	bootDelay   = 0
)
