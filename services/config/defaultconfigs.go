package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Populate embeddedConfigs at build time (e.g. via code generation) or
// manually during development.
// Key: profile name (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that profile
// -----------------------------------------------------------------------------

// host: Linux SBC or workstation. Sensor on GPIO4 (the usual 1-wire header
// pin), status LED on GPIO17, telemetry to a local MQTT broker.
const cfgHost = `{
  "hal": [
    { "id": "env0", "type": "dht22", "params": { "pin": 4, "period_s": 10 } },
    { "id": "led0", "type": "gpio_led", "params": { "pin": 17 } }
  ],
  "heartbeat": {
      "interval": 5
  },
  "uplink": {
      "transport": {
          "type": "mqtt",
          "mqtt": { "broker": "tcp://127.0.0.1:1883" }
      }
  }
}`

// pico: RP2040 board. Sensor on GP15, the onboard WS2812 on GP16 (Waveshare
// RP2040-Zero layout), telemetry framed over UART0.
const cfgPico = `{
  "hal": [
    { "id": "env0", "type": "dht22", "params": { "pin": 15, "period_s": 10 } },
    { "id": "led0", "type": "led_ws2812", "params": { "pin": 16, "count": 1 } }
  ],
  "heartbeat": {
      "interval": 2
  },
  "uplink": {
      "transport": {
          "type": "uart",
          "uart": { "baud": 115200, "tx_pin": 0, "rx_pin": 1 }
      }
  }
}`

var embeddedConfigs = map[string][]byte{
	"host": []byte(cfgHost),
	"pico": []byte(cfgPico),
}
