// Package provider selects the platform resource registry at build time:
// periph.io on hosted Linux, go-rpio when built with the rpi tag, and the
// machine package on rp2040/rp2350. Each build supplies NewResources.
package provider
