package config

// Config is the top-level YAML structure.
type Config struct {
	Version     string          `yaml:"version"`
	ResourceAPI ResourceAPIConf `yaml:"resource_api"`
	Engine      EngineConf      `yaml:"engine"`
	Render      RenderConf      `yaml:"render"`
}

// ResourceAPIConf points the fetcher at the build server's REST API.
type ResourceAPIConf struct {
	BaseURL   string `yaml:"base_url"`
	Root      string `yaml:"root"`  // replaces "/resource" in lookup paths
	Token     string `yaml:"token"` // optional bearer token
	TimeoutMs int    `yaml:"timeout_ms"`
	Fields    string `yaml:"fields"` // default fields selector
}

// EngineConf holds tunable concurrency settings.
type EngineConf struct {
	Workers        int `yaml:"workers"`
	QueueDepth     int `yaml:"queue_depth"`
	EventTimeoutMs int `yaml:"event_timeout_ms"`
}

// RenderConf selects the format used when a request names none.
type RenderConf struct {
	DefaultFormat string `yaml:"default_format"`
}
