package types

// ------------------------
// HAL configuration
// ------------------------

// HALConfig is supplied on the "config/hal" bus topic, either as this
// typed value or as the decoded JSON object the config service publishes.
type HALConfig struct {
	Devices []HALDevice `json:"devices"`
}

// HALDevice describes one device to be managed by HAL.
type HALDevice struct {
	ID     string `json:"id"`
	Type   string `json:"type"` // e.g. "dht22", "gpio_led"
	Params any    `json:"params,omitempty"`
}

// ------------------------
// Shared control payloads
// ------------------------

// SetRate changes a device's poll period.
type SetRate struct {
	PeriodMs uint32 `json:"period_ms"`
}

type SetRateAck struct {
	OK       bool   `json:"ok"`
	PeriodMs uint32 `json:"period_ms"`
}
