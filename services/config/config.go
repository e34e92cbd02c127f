package config

import (
	"context"
	"errors"

	"envnode-go/bus"

	"github.com/andreyvit/tinyjson"
)

// -----------------------------------------------------------------------------
// String constants (live in flash, not RAM)
// -----------------------------------------------------------------------------

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = "device" // context key used for the node profile name
)

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(profile string) ([]byte, bool) {
	b, ok := embeddedConfigs[profile]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

// ConfigService publishes the node's configuration as one retained message
// per top-level key: config/hal, config/heartbeat, config/uplink and so on.
// Services subscribe to their own key and never see unrelated changes.
type ConfigService struct {
	Name string
}

func NewConfigService() *ConfigService {
	return &ConfigService{Name: serviceName}
}

// publishConfig reads the profile's embedded JSON and publishes it per key.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	profile, _ := ctx.Value(CtxDeviceKey).(string)
	if profile == "" {
		return errors.New("missing profile name in context")
	}

	raw, ok := EmbeddedConfigLookup(profile)
	if !ok || len(raw) == 0 {
		return errors.New("no embedded config for profile: " + profile)
	}

	r := tinyjson.Raw(raw)
	val := r.Value() // should be a map[string]any
	r.EnsureEOF()

	m, ok := val.(map[string]any)
	if !ok {
		return errors.New("embedded config is not a JSON object")
	}

	for k, v := range m {
		msg := &bus.Message{
			Topic:    bus.T(configPrefix, k),
			Payload:  v,
			Retained: true,
		}
		conn.Publish(msg)
	}

	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			println("[config] publish failed:", err.Error())
		}
	}()
}
