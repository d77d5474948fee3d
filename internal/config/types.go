package config

// ProviderConfig is the configuration record for one upstream provider.
// Immutable after load. A provider is usable iff Enabled is true;
// device-flow operations additionally require ClientID and the relevant
// endpoints.
type ProviderConfig struct {
	Enabled       bool   `mapstructure:"enabled" json:"enabled"`
	Type          string `mapstructure:"type" json:"type"` // "openai" | "gemini" | "anthropic"
	ClientID      string `mapstructure:"clientId" json:"clientId,omitempty"`
	ClientSecret  string `mapstructure:"clientSecret" json:"clientSecret,omitempty"`
	AuthEndpoint  string `mapstructure:"authEndpoint" json:"authEndpoint,omitempty"`
	TokenEndpoint string `mapstructure:"tokenEndpoint" json:"tokenEndpoint,omitempty"`
	APIEndpoint   string `mapstructure:"apiEndpoint" json:"apiEndpoint"`
	Models        []string `mapstructure:"models" json:"models,omitempty"`
}

// ProviderModel is one candidate within a ModelAlias's expansion: a
// (provider, model, priority) triple. Lower Priority is preferred.
type ProviderModel struct {
	Provider string `mapstructure:"provider" json:"provider"`
	Model    string `mapstructure:"model" json:"model"`
	Priority int    `mapstructure:"priority" json:"priority"`
}

// ModelAlias maps a client-visible model name to a priority-ordered set of
// provider candidates.
type ModelAlias struct {
	Alias     string          `mapstructure:"alias" json:"alias"`
	Providers []ProviderModel `mapstructure:"providers" json:"providers"`
}

// RateLimitConfig bounds one provider's admission rate and wait queue.
type RateLimitConfig struct {
	Provider          string `mapstructure:"provider" json:"provider"`
	RequestsPerMinute int    `mapstructure:"requestsPerMinute" json:"requestsPerMinute"`
	MaxQueueSize      int    `mapstructure:"maxQueueSize" json:"maxQueueSize"`
}

// GatewayConfig is the HTTP-listener configuration.
type GatewayConfig struct {
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`
}

// AuthConfig names the token store location and any files to watch for
// externally-imported credentials.
type AuthConfig struct {
	TokenStorePath string   `mapstructure:"tokenStorePath" json:"tokenStorePath"`
	WatchFiles     []string `mapstructure:"watchFiles" json:"watchFiles,omitempty"`
}

// Config is the fully-parsed configuration record the core components
// consume. internal/config.Load is the only place that knows viper exists;
// everything downstream of Load takes this plain struct.
type Config struct {
	Gateway     GatewayConfig             `mapstructure:"gateway" json:"gateway"`
	Auth        AuthConfig                `mapstructure:"auth" json:"auth"`
	ModelAliases []ModelAlias             `mapstructure:"modelAliases" json:"modelAliases"`
	RateLimits  []RateLimitConfig         `mapstructure:"rateLimits" json:"rateLimits"`
	Providers   map[string]ProviderConfig `mapstructure:"providers" json:"providers"`

	LogLevel  string `mapstructure:"logLevel" json:"logLevel"`
	LogFormat string `mapstructure:"logFormat" json:"logFormat"`
}
