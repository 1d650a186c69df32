package config

import (
	"strings"

	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// DefaultProviders returns the two CDNs the harness was built to compare.
// Credentials and domains are read from VERGE_* and ARVAN_* variables.
func DefaultProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:        "verge",
			Name:      "VergeCloud",
			OriginURL: "https://test-verge-test.shop",
			Hosts:     []string{"test-verge-test.shop", "www.test-verge-test.shop"},
			Aliases:   []string{"vergecloud"},
			API: APIConfig{
				Dialect:   "verge",
				BaseURL:   "https://api.vergecloud.com/v1",
				DomainEnv: "VERGE_DOMAIN",
				Auth: AuthConfig{
					Mode:   "apikey",
					Header: "X-API-Key",
					KeyEnv: "VERGE_TOKEN",
				},
			},
		},
		{
			ID:        "arvan",
			Name:      "ArvanCloud",
			OriginURL: "https://test20250316.ir",
			Hosts:     []string{"test20250316.ir", "www.test20250316.ir"},
			Aliases:   []string{"arvancloud"},
			API: APIConfig{
				Dialect:   "arvan",
				BaseURL:   "https://napi.arvancloud.ir/cdn/4.0",
				DomainEnv: "ARVAN_DOMAIN",
				Auth: AuthConfig{
					Mode:   "apikey",
					Header: "Authorization",
					Prefix: "apikey ",
					KeyEnv: "ARVAN_TOKEN",
				},
			},
		},
	}
}

// DefaultVendors returns the API-only accounts available to the purge proxy.
func DefaultVendors() []ProviderConfig {
	return []ProviderConfig{
		{
			ID:   "cloudflare",
			Name: "Cloudflare",
			API: APIConfig{
				Dialect:   "cloudflare",
				BaseURL:   "https://api.cloudflare.com/client/v4",
				ZoneIDEnv: "CF_ZONE_ID",
				Auth: AuthConfig{
					Mode:     "bearer",
					TokenEnv: "CF_API_TOKEN",
				},
			},
		},
	}
}

// DefaultEndpoints returns the built-in probe catalog. HTTP endpoints come
// first, vendor actions last.
func DefaultEndpoints() []EndpointConfig {
	return []EndpointConfig{
		{ID: "root", Name: "Root Page", Category: "performance", Path: "/"},
		{ID: "large", Name: "Large File", Category: "performance", Path: "/large-probe.txt"},
		{ID: "small", Name: "Small File", Category: "performance", Path: "/probe.txt"},
		{ID: "cache-time", Name: "Cache Headers", Category: "caching", Path: "/api/time"},
		{ID: "cache-bypass", Name: "Cache Bypass", Category: "caching", Path: "/cache/bypass/nocache"},
		{ID: "sql", Name: "Security - SQL", Category: "security", Path: "/security/sql/union"},
		{ID: "xss", Name: "Security - XSS", Category: "security", Path: "/security/xss/script"},
		{ID: "redirect", Name: "Redirect 301", Category: "features", Path: "/redirect/301"},

		{ID: "api-domains", Name: "API: List Domains", Category: "api", Action: "domains"},
		{ID: "api-domain-details", Name: "API: Domain Details", Category: "api", Action: "domain-details"},
		{ID: "api-ssl", Name: "API: SSL Settings", Category: "api", Action: "ssl"},
		{ID: "api-dns", Name: "API: DNS Records", Category: "api", Action: "dns"},
		{ID: "api-caching", Name: "API: Cache Settings", Category: "api", Action: "caching"},
		{ID: "api-firewall", Name: "API: Firewall Rules", Category: "api", Action: "firewall"},
		{ID: "api-analytics", Name: "API: Traffic Reports", Category: "api", Action: "analytics"},
	}
}

// Catalog is the immutable provider and endpoint set derived from a Config.
// A config reload builds a new Catalog; runs keep the one they started with.
type Catalog struct {
	providers []types.Provider
	endpoints []types.Endpoint

	providerIdx map[string]int
	endpointIdx map[string]int
	aliases     map[string]string
}

// Catalog builds the immutable catalog for c.
func (c *Config) Catalog() *Catalog {
	cat := &Catalog{
		providerIdx: make(map[string]int, len(c.Providers)),
		endpointIdx: make(map[string]int, len(c.Endpoints)),
		aliases:     make(map[string]string),
	}
	for i, p := range c.Providers {
		cat.providers = append(cat.providers, p.Provider())
		cat.providerIdx[p.ID] = i
		for _, a := range p.Aliases {
			cat.aliases[strings.ToLower(a)] = p.ID
		}
	}
	for _, v := range c.Vendors {
		for _, a := range v.Aliases {
			cat.aliases[strings.ToLower(a)] = v.ID
		}
	}
	for i, e := range c.Endpoints {
		cat.endpoints = append(cat.endpoints, e.Endpoint())
		cat.endpointIdx[e.ID] = i
	}
	return cat
}

// Providers returns the providers in configured order.
func (c *Catalog) Providers() []types.Provider {
	return append([]types.Provider(nil), c.providers...)
}

// Endpoints returns the endpoints in configured order.
func (c *Catalog) Endpoints() []types.Endpoint {
	return append([]types.Endpoint(nil), c.endpoints...)
}

// Provider looks up a provider by id.
func (c *Catalog) Provider(id string) (types.Provider, bool) {
	i, ok := c.providerIdx[id]
	if !ok {
		return types.Provider{}, false
	}
	return c.providers[i], true
}

// Endpoint looks up an endpoint by id.
func (c *Catalog) Endpoint(id string) (types.Endpoint, bool) {
	i, ok := c.endpointIdx[id]
	if !ok {
		return types.Endpoint{}, false
	}
	return c.endpoints[i], true
}

// Normalize maps an id or alias to its canonical provider id. Unknown values
// are returned lower-cased and trimmed so callers can report them.
func (c *Catalog) Normalize(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if canonical, ok := c.aliases[id]; ok {
		return canonical
	}
	return id
}

// Detect returns the provider owning hostname, if any.
func (c *Catalog) Detect(hostname string) (types.Provider, bool) {
	if h, _, ok := strings.Cut(hostname, ":"); ok {
		hostname = h
	}
	for _, p := range c.providers {
		if p.MatchesHost(hostname) {
			return p, true
		}
	}
	return types.Provider{}, false
}
