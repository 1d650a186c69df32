package config

import (
	"crypto/tls"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultRounds           = 3
	DefaultMaxRounds        = 10
	DefaultDelay            = 2 * time.Second
	DefaultProbeTimeout     = 30 * time.Second
	DefaultVendorTimeout    = 30 * time.Second
	DefaultIssueThreshold   = 0.7
	DefaultHTTPPort         = 8080
	DefaultSnapshotInterval = 15 * time.Second
	DefaultCORSOrigin       = "*"
	DefaultHistoryLimit     = 50
)

// DefaultSecurityBlockStatuses are the response codes that mark a security
// probe as rejected by the provider's WAF.
var DefaultSecurityBlockStatuses = []int{403, 406}

// Config is the top-level configuration shared by the server and the CLI.
// Fields map 1:1 to config.example.yaml.
type Config struct {
	// Providers is the list of CDNs under test. Empty means the built-in set.
	Providers []ProviderConfig `yaml:"providers"`

	// Endpoints is the ordered probe catalog. Empty means the built-in catalog.
	Endpoints []EndpointConfig `yaml:"endpoints"`

	// Vendors are API-only accounts reachable through the vendor proxy and
	// purge routes but never probed (cloudflare by default). origin_url is
	// not required here.
	Vendors []ProviderConfig `yaml:"vendors"`

	Runner RunnerConfig `yaml:"runner"`
	Server ServerConfig `yaml:"server"`
}

// ProviderConfig describes one CDN under test.
type ProviderConfig struct {
	// ID is a unique, lower-case identifier (verge, arvan, ...).
	ID string `yaml:"id"`

	// Name is the display name used in reports and issue strings.
	Name string `yaml:"name"`

	// OriginURL is the base URL that HTTP endpoint paths are resolved against.
	OriginURL string `yaml:"origin_url"`

	// Hosts are the hostnames used for provider auto-detection.
	Hosts []string `yaml:"hosts"`

	// Aliases are alternative ids accepted by the vendor proxy and purge
	// routes (vergecloud, arvancloud).
	Aliases []string `yaml:"aliases"`

	// API configures the vendor REST API used by vendor action endpoints.
	API APIConfig `yaml:"api"`

	// TLS holds optional TLS options for origin probes and vendor API calls.
	// Certificate checks always inspect the served chain and report trust
	// separately.
	TLS TLSConfig `yaml:"tls"`
}

// Provider returns the immutable catalog record for p.
func (p ProviderConfig) Provider() types.Provider {
	name := p.Name
	if name == "" {
		name = p.ID
	}
	return types.Provider{
		ID:        p.ID,
		Name:      name,
		OriginURL: p.OriginURL,
		Hosts:     append([]string(nil), p.Hosts...),
	}
}

// APIConfig describes a provider's vendor REST API.
type APIConfig struct {
	// Dialect selects action path resolution and purge format:
	// verge | arvan | cloudflare | generic.
	Dialect string `yaml:"dialect"`

	// BaseURL is the API root, e.g. https://napi.arvancloud.ir/cdn/4.0.
	BaseURL string `yaml:"base_url"`

	// Domain is the zone under test. DomainEnv, when set, overrides it.
	Domain    string `yaml:"domain"`
	DomainEnv string `yaml:"domain_env"`

	// ZoneIDEnv names the environment variable holding the zone id
	// (cloudflare dialect only).
	ZoneIDEnv string `yaml:"zone_id_env"`

	// RateLimit caps requests per second to this API; 0 uses runner.vendor_rate_limit.
	RateLimit float64 `yaml:"rate_limit"`

	Auth AuthConfig `yaml:"auth"`
}

// Enabled reports whether a vendor API is configured.
func (a APIConfig) Enabled() bool { return a.BaseURL != "" }

// ResolvedDomain returns the domain from the environment, falling back to Domain.
func (a APIConfig) ResolvedDomain() string {
	if a.DomainEnv != "" {
		if v := os.Getenv(a.DomainEnv); v != "" {
			return v
		}
	}
	return a.Domain
}

// ZoneID returns the zone id resolved from the environment.
func (a APIConfig) ZoneID() string {
	if a.ZoneIDEnv == "" {
		return ""
	}
	return os.Getenv(a.ZoneIDEnv)
}

// AuthConfig specifies how requests to a vendor API are authenticated.
type AuthConfig struct {
	// Mode is one of: apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// Prefix is prepended to the key value, e.g. "apikey " for ArvanCloud.
	Prefix string `yaml:"prefix"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// TokenEnv holds the bearer token variable name, used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds per-provider TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for staging origins with self-signed certificates.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// ClientConfig returns the tls.Config for t, or nil when t sets nothing.
func (t TLSConfig) ClientConfig() *tls.Config {
	if !t.InsecureSkipVerify {
		return nil
	}
	return &tls.Config{InsecureSkipVerify: true} //nolint:gosec // user-configured
}

// EndpointConfig is one catalog entry. Exactly one of Path or Action is set.
type EndpointConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Category string `yaml:"category"`
	Path     string `yaml:"path"`
	Action   string `yaml:"action"`
}

// Endpoint converts e into the tagged catalog variant.
func (e EndpointConfig) Endpoint() types.Endpoint {
	name := e.Name
	if name == "" {
		name = e.ID
	}
	if e.Action != "" {
		return types.VendorEndpoint(e.ID, name, e.Action)
	}
	return types.HTTPEndpoint(e.ID, name, types.Category(e.Category), e.Path)
}

// RunnerConfig controls the round scheduler, probe executor and scorer.
type RunnerConfig struct {
	// DefaultRounds is used when a run request omits rounds.
	DefaultRounds int `yaml:"default_rounds"`

	// MaxRounds rejects run requests above this many rounds.
	MaxRounds int `yaml:"max_rounds"`

	// DefaultDelay is the pause between probes when a request omits delay.
	DefaultDelay time.Duration `yaml:"default_delay"`

	// ProbeTimeout bounds one origin request including the body read.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// VendorTimeout bounds one vendor API request.
	VendorTimeout time.Duration `yaml:"vendor_timeout"`

	// VendorRateLimit caps vendor API requests per second per provider.
	// 0 disables limiting.
	VendorRateLimit float64 `yaml:"vendor_rate_limit"`

	// IssueThreshold flags a provider whose pass rate is strictly below it.
	IssueThreshold float64 `yaml:"issue_threshold"`

	// SecurityBlockStatuses are the statuses treated as a WAF rejection on
	// security endpoints.
	SecurityBlockStatuses []int `yaml:"security_block_statuses"`

	// DefaultProvider is used by the vendor proxy when no provider is given.
	DefaultProvider string `yaml:"default_provider"`
}

// ServerConfig holds dashboard-server settings. The CLI ignores this section.
type ServerConfig struct {
	// HTTPPort is the port the REST API, SSE streams and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// SnapshotInterval controls how often the WebSocket hub re-sends the last report.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`

	// CORSOrigin is sent as Access-Control-Allow-Origin.
	CORSOrigin string `yaml:"cors_origin"`

	// Auth configures how the server authenticates mutating REST requests.
	Auth ServerAuthConfig `yaml:"auth"`

	// Alerts holds webhook delivery configuration for provider issues.
	Alerts AlertsConfig `yaml:"alerts"`

	// Storage configures the optional run history backend.
	Storage StorageConfig `yaml:"storage"`

	// Kafka configures the optional report publisher.
	Kafka KafkaConfig `yaml:"kafka"`
}

// ServerAuthConfig configures REST API authentication.
type ServerAuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// Header is the request header carrying the key. Defaults to X-API-Key.
	Header string `yaml:"header"`

	// KeyEnv is the name of the environment variable holding the expected API key.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the server API key resolved from the environment.
func (a ServerAuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns Header or the default X-API-Key.
func (a ServerAuthConfig) EffectiveHeader() string {
	if a.Header == "" {
		return "X-API-Key"
	}
	return a.Header
}

// AlertsConfig holds the issue alert settings and webhook targets.
type AlertsConfig struct {
	// Severity is attached to every provider issue alert. Defaults to warning.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for the same provider for this duration.
	Cooldown time.Duration `yaml:"cooldown"`

	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable holding the webhook URL.
	URLEnv string `yaml:"url_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// StorageConfig configures run history persistence.
type StorageConfig struct {
	// Backend selects the storage implementation: sqlite | none.
	Backend string `yaml:"backend"`

	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`

	// HistoryLimit caps how many runs GET /api/v1/runs/history returns.
	HistoryLimit int `yaml:"history_limit"`
}

// KafkaConfig configures publication of completed run reports.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether a Kafka publisher should be started.
func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 && k.Topic != "" }

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	cfg.fill()

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	cfg := defaults()
	cfg.fill()
	return cfg
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Runner: RunnerConfig{
			DefaultRounds:  DefaultRounds,
			MaxRounds:      DefaultMaxRounds,
			DefaultDelay:   DefaultDelay,
			ProbeTimeout:   DefaultProbeTimeout,
			VendorTimeout:  DefaultVendorTimeout,
			IssueThreshold: DefaultIssueThreshold,
		},
		Server: ServerConfig{
			HTTPPort:         DefaultHTTPPort,
			SnapshotInterval: DefaultSnapshotInterval,
			CORSOrigin:       DefaultCORSOrigin,
			Storage: StorageConfig{
				HistoryLimit: DefaultHistoryLimit,
			},
		},
	}
}

// fill applies defaults that depend on what the file left empty.
func (c *Config) fill() {
	if len(c.Providers) == 0 {
		c.Providers = DefaultProviders()
	}
	if len(c.Endpoints) == 0 {
		c.Endpoints = DefaultEndpoints()
	}
	if c.Vendors == nil {
		c.Vendors = DefaultVendors()
	}
	if len(c.Runner.SecurityBlockStatuses) == 0 {
		c.Runner.SecurityBlockStatuses = append([]int(nil), DefaultSecurityBlockStatuses...)
	}
	for _, list := range [][]ProviderConfig{c.Providers, c.Vendors} {
		for i := range list {
			list[i].ID = strings.ToLower(strings.TrimSpace(list[i].ID))
			if list[i].API.Enabled() && list[i].API.Dialect == "" {
				list[i].API.Dialect = "generic"
			}
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Runner.DefaultRounds < 1 {
		return fmt.Errorf("runner.default_rounds must be at least 1")
	}
	if cfg.Runner.MaxRounds < cfg.Runner.DefaultRounds {
		return fmt.Errorf("runner.max_rounds must be >= default_rounds")
	}
	if cfg.Runner.DefaultDelay < 0 {
		return fmt.Errorf("runner.default_delay must not be negative")
	}
	if cfg.Runner.ProbeTimeout <= 0 {
		return fmt.Errorf("runner.probe_timeout must be positive")
	}
	if cfg.Runner.VendorTimeout <= 0 {
		return fmt.Errorf("runner.vendor_timeout must be positive")
	}
	if cfg.Runner.VendorRateLimit < 0 {
		return fmt.Errorf("runner.vendor_rate_limit must not be negative")
	}
	if cfg.Runner.IssueThreshold <= 0 || cfg.Runner.IssueThreshold > 1 {
		return fmt.Errorf("runner.issue_threshold must be in (0, 1]")
	}
	for _, code := range cfg.Runner.SecurityBlockStatuses {
		if code < 100 || code > 599 {
			return fmt.Errorf("runner.security_block_statuses: invalid status %d", code)
		}
	}

	seen := make(map[string]string)
	for i, p := range cfg.Providers {
		if p.ID == "" {
			return fmt.Errorf("providers[%d]: id is required", i)
		}
		if p.ID == types.ProviderAPI {
			return fmt.Errorf("providers[%d]: id %q is reserved", i, p.ID)
		}
		if p.OriginURL == "" {
			return fmt.Errorf("providers[%d] %q: origin_url is required", i, p.ID)
		}
		if u, err := url.Parse(p.OriginURL); err != nil || u.Host == "" ||
			(u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("providers[%d] %q: origin_url must be an absolute http(s) URL", i, p.ID)
		}
		for _, name := range append([]string{p.ID}, p.Aliases...) {
			name = strings.ToLower(name)
			if owner, dup := seen[name]; dup {
				return fmt.Errorf("providers[%d] %q: id or alias %q already used by %q", i, p.ID, name, owner)
			}
			seen[name] = p.ID
		}
		if err := validateAPI(p.API); err != nil {
			return fmt.Errorf("providers[%d] %q: %w", i, p.ID, err)
		}
	}
	for i, v := range cfg.Vendors {
		if v.ID == "" {
			return fmt.Errorf("vendors[%d]: id is required", i)
		}
		if !v.API.Enabled() {
			return fmt.Errorf("vendors[%d] %q: api.base_url is required", i, v.ID)
		}
		for _, name := range append([]string{v.ID}, v.Aliases...) {
			name = strings.ToLower(name)
			if owner, dup := seen[name]; dup {
				return fmt.Errorf("vendors[%d] %q: id or alias %q already used by %q", i, v.ID, name, owner)
			}
			seen[name] = v.ID
		}
		if err := validateAPI(v.API); err != nil {
			return fmt.Errorf("vendors[%d] %q: %w", i, v.ID, err)
		}
	}

	ids := make(map[string]bool)
	for i, e := range cfg.Endpoints {
		if e.ID == "" {
			return fmt.Errorf("endpoints[%d]: id is required", i)
		}
		if ids[e.ID] {
			return fmt.Errorf("endpoints[%d]: duplicate id %q", i, e.ID)
		}
		ids[e.ID] = true
		switch {
		case e.Path != "" && e.Action != "":
			return fmt.Errorf("endpoints[%d] %q: path and action are mutually exclusive", i, e.ID)
		case e.Path == "" && e.Action == "":
			return fmt.Errorf("endpoints[%d] %q: one of path or action is required", i, e.ID)
		}
		if e.Action != "" {
			if e.Category != "" && e.Category != string(types.CategoryAPI) {
				return fmt.Errorf("endpoints[%d] %q: vendor actions must use category api", i, e.ID)
			}
			continue
		}
		if !strings.HasPrefix(e.Path, "/") {
			return fmt.Errorf("endpoints[%d] %q: path must start with /", i, e.ID)
		}
		cat := types.Category(e.Category)
		if !cat.Valid() || cat == types.CategoryAPI {
			return fmt.Errorf("endpoints[%d] %q: unknown category %q", i, e.ID, e.Category)
		}
	}

	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port out of range")
	}
	if cfg.Server.SnapshotInterval <= 0 {
		return fmt.Errorf("server.snapshot_interval must be positive")
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth: unknown mode %q", cfg.Server.Auth.Mode)
	}
	switch cfg.Server.Storage.Backend {
	case "sqlite":
		if cfg.Server.Storage.Path == "" {
			return fmt.Errorf("server.storage.path is required for sqlite")
		}
	case "none", "":
	default:
		return fmt.Errorf("server.storage: unknown backend %q", cfg.Server.Storage.Backend)
	}
	for i, wh := range cfg.Server.Alerts.Webhooks {
		switch wh.Type {
		case "slack", "teams", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d]: unknown type %q", i, wh.Type)
		}
	}
	return nil
}

func validateAPI(a APIConfig) error {
	switch a.Dialect {
	case "verge", "arvan", "cloudflare", "generic", "":
	default:
		return fmt.Errorf("unknown api dialect %q", a.Dialect)
	}
	if a.Enabled() {
		if u, err := url.Parse(a.BaseURL); err != nil || u.Host == "" {
			return fmt.Errorf("api.base_url must be an absolute URL")
		}
	}
	switch a.Auth.Mode {
	case "apikey", "bearer", "basic", "none", "":
	default:
		return fmt.Errorf("unknown auth mode %q", a.Auth.Mode)
	}
	if a.Auth.Mode == "apikey" && a.Auth.Header == "" {
		return fmt.Errorf("api.auth.header is required for apikey mode")
	}
	return nil
}

// APIAccounts returns every provider and vendor entry with a configured API,
// providers first.
func (c *Config) APIAccounts() []ProviderConfig {
	out := make([]ProviderConfig, 0, len(c.Providers)+len(c.Vendors))
	for _, list := range [][]ProviderConfig{c.Providers, c.Vendors} {
		for _, p := range list {
			if p.API.Enabled() {
				out = append(out, p)
			}
		}
	}
	return out
}

// ProviderConfig returns the provider entry with the given canonical id.
func (c *Config) ProviderConfig(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
