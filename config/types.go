package config

// Pauses holds the operator pause switches applied at startup.
type Pauses struct {
	Claims  bool `toml:"Claims"`
	Lottery bool `toml:"Lottery"`
}

// RateLimit bounds JSON-RPC requests per remote address.
type RateLimit struct {
	RequestsPerMinute int `toml:"RequestsPerMinute"`
	Burst             int `toml:"Burst"`
}

// Allocation seeds a holder balance the first time the state database is created.
type Allocation struct {
	Owner  string `toml:"Owner"`
	Amount uint64 `toml:"Amount"`
}

// Telemetry configures the OTLP/HTTP exporters. An empty Endpoint leaves
// telemetry disabled.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Enabled reports whether any exporter should be installed.
func (t Telemetry) Enabled() bool {
	return t.Endpoint != "" && (t.Metrics || t.Traces)
}
