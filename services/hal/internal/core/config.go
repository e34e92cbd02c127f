package core

import "envnode-go/types"

// decodeHALConfig accepts either the typed form (tests, direct publishers)
// or the array-of-objects shape the config service publishes after JSON
// decoding. Entries without an id or type are skipped.
func decodeHALConfig(v any) (types.HALConfig, bool) {
	switch cfg := v.(type) {
	case types.HALConfig:
		return cfg, true
	case []any:
		var out types.HALConfig
		for _, e := range cfg {
			m, ok := e.(map[string]any)
			if !ok {
				continue
			}
			var d types.HALDevice
			d.ID, _ = m["id"].(string)
			d.Type, _ = m["type"].(string)
			d.Params = m["params"]
			if d.ID == "" || d.Type == "" {
				continue
			}
			out.Devices = append(out.Devices, d)
		}
		return out, true
	}
	return types.HALConfig{}, false
}
