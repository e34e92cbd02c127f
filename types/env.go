package types

// ------------------------
// Temperature & humidity
// ------------------------

type TemperatureInfo struct {
	Sensor string `json:"sensor"` // "dht22", ...
	Pin    int    `json:"pin"`    // GPIO number the sensor line is on
}

type HumidityInfo struct {
	Sensor string `json:"sensor"`
	Pin    int    `json:"pin"`
}

// Values are the sensor's native tenths; no further scaling is applied.

type TemperatureValue struct {
	// Tenths of °C (e.g. 231 => 23.1°C, -105 => -10.5°C).
	DeciC int16 `json:"deci_c"`
}

type HumidityValue struct {
	// Tenths of %RH (e.g. 540 => 54.0%).
	DeciRH uint16 `json:"deci_rh"`
}
