package types

import (
	"strings"
)

// Category groups endpoints on the dashboard and drives security classification.
type Category string

// Endpoint categories.
const (
	CategoryPerformance Category = "performance"
	CategoryCaching     Category = "caching"
	CategorySecurity    Category = "security"
	CategoryFeatures    Category = "features"
	CategoryAPI         Category = "api"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryPerformance,
	CategoryCaching,
	CategorySecurity,
	CategoryFeatures,
	CategoryAPI,
}

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	for _, k := range Categories {
		if c == k {
			return true
		}
	}
	return false
}

// DisplayName returns the dashboard heading for c.
func (c Category) DisplayName() string {
	switch c {
	case CategoryPerformance:
		return "Performance"
	case CategoryCaching:
		return "Caching"
	case CategorySecurity:
		return "Security"
	case CategoryFeatures:
		return "Features"
	case CategoryAPI:
		return "API"
	default:
		return string(c)
	}
}

// EndpointKind selects how an endpoint is probed.
type EndpointKind string

const (
	// KindHTTP endpoints are fetched from each provider's origin.
	KindHTTP EndpointKind = "http"
	// KindVendorAction endpoints are executed against each provider's vendor API.
	KindVendorAction EndpointKind = "vendor_action"
)

// Endpoint is one entry of the probe catalog.
type Endpoint struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Category Category     `json:"category"`
	Kind     EndpointKind `json:"kind"`

	// Path is set for KindHTTP.
	Path string `json:"path,omitempty"`

	// Action is set for KindVendorAction (domains, ssl, dns, ...).
	Action string `json:"action,omitempty"`
}

// HTTPEndpoint returns an endpoint probed by GET against each provider origin.
func HTTPEndpoint(id, name string, cat Category, path string) Endpoint {
	return Endpoint{ID: id, Name: name, Category: cat, Kind: KindHTTP, Path: path}
}

// VendorEndpoint returns an endpoint executed through the vendor API adapter.
func VendorEndpoint(id, name, action string) Endpoint {
	return Endpoint{ID: id, Name: name, Category: CategoryAPI, Kind: KindVendorAction, Action: action}
}

// IsAPI reports whether e is a vendor action.
func (e Endpoint) IsAPI() bool { return e.Kind == KindVendorAction }

// IsSecurity reports whether a rejection of e by the provider counts as a
// successful defence rather than a failure.
func (e Endpoint) IsSecurity() bool {
	return e.Category == CategorySecurity || strings.Contains(e.Path, "/security/")
}

// Provider is one CDN under test.
type Provider struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	OriginURL string   `json:"originUrl"`
	Hosts     []string `json:"hosts,omitempty"`
}

// URL resolves path against the provider origin.
func (p Provider) URL(path string) string {
	base := strings.TrimRight(p.OriginURL, "/")
	if path == "" {
		return base + "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// MatchesHost reports whether hostname belongs to p. Subdomains of a
// configured host match too.
func (p Provider) MatchesHost(hostname string) bool {
	hostname = strings.ToLower(strings.TrimSuffix(hostname, "."))
	if hostname == "" {
		return false
	}
	for _, h := range p.Hosts {
		h = strings.ToLower(h)
		if hostname == h || strings.HasSuffix(hostname, "."+h) {
			return true
		}
	}
	return false
}
