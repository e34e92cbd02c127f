package types

// ---- Node-wide retained state ----

type HALState struct {
	Level  string `json:"level"`  // "idle", "ready", "stopped"
	Status string `json:"status"` // freeform short code
	TSms   int64  `json:"ts_ms"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityStatus struct {
	Link  Link   `json:"link"`
	TSms  int64  `json:"ts_ms"`
	Error string `json:"error,omitempty"` // machine-readable short code
}

// ---- Capability kinds & info ----

type Kind string

const (
	KindLED         Kind = "led"
	KindTemperature Kind = "temperature"
	KindHumidity    Kind = "humidity"
)

// Info envelope each capability exposes (retained).
type Info struct {
	SchemaVersion int    `json:"schema_version"`
	Driver        string `json:"driver"`
	Detail        any    `json:"detail,omitempty"`
}

// ---- LED capability payloads ----

type LEDInfo struct {
	Pin int `json:"pin"`
}

type LEDValue struct {
	Level uint8 `json:"level"` // 0 or 1
}

type LEDSet struct {
	Level bool `json:"level"`
}

// ---- Heartbeat ----

type Heartbeat struct {
	Seq     uint32 `json:"seq"`
	UptimeS int64  `json:"uptime_s"`
	TSms    int64  `json:"ts_ms"`
}

// ---- Generic replies ----

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}
