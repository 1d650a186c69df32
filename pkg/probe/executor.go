package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/cdnprobe/cdnprobe/pkg/types"
	"github.com/cdnprobe/cdnprobe/pkg/vendor"
)

// DefaultTimeout bounds one origin request when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// VendorCaller performs a vendor API action for one provider.
// *vendor.Registry satisfies it.
type VendorCaller interface {
	Call(ctx context.Context, providerID, action string) (vendor.Response, error)
}

// Options configures an Executor.
type Options struct {
	// Timeout bounds each origin request including the body read.
	Timeout time.Duration

	// BlockStatuses are the statuses that mark a security probe as blocked.
	BlockStatuses []int

	// TLS holds per-provider TLS settings for origin probes, keyed by
	// provider id. Providers without an entry use the default transport.
	TLS map[string]*tls.Config

	// Client overrides the HTTP client used for origin probes. When set, TLS
	// is ignored.
	Client *http.Client
}

// Executor runs probes. It holds no per-run state and is safe for concurrent use.
type Executor struct {
	client  *http.Client
	clients map[string]*http.Client // per provider, from Options.TLS
	vendor VendorCaller
	blocks map[int]bool
	now    func() time.Time
}

// New returns an Executor. vendor may be nil, in which case every vendor
// action fails with an error outcome.
func New(vendor VendorCaller, opts Options) *Executor {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.Client
	clients := make(map[string]*http.Client)
	if client == nil {
		client = &http.Client{Timeout: timeout}
		for id, tc := range opts.TLS {
			if tc == nil {
				continue
			}
			tr := http.DefaultTransport.(*http.Transport).Clone()
			tr.TLSClientConfig = tc.Clone()
			clients[id] = &http.Client{Timeout: timeout, Transport: tr}
		}
	}
	blocks := make(map[int]bool, len(opts.BlockStatuses))
	for _, s := range opts.BlockStatuses {
		blocks[s] = true
	}
	return &Executor{
		client:  client,
		clients: clients,
		vendor:  vendor,
		blocks:  blocks,
		now:     time.Now,
	}
}

// HTTP probes one HTTP endpoint on one provider.
func (e *Executor) HTTP(ctx context.Context, ep types.Endpoint, p types.Provider, round int) types.Outcome {
	out := types.Outcome{
		EndpointID:   ep.ID,
		EndpointName: ep.Name,
		Category:     ep.Category,
		ProviderID:   p.ID,
		Round:        round,
	}

	e.guard(&out, func() {
		if p.OriginURL == "" {
			out.Error = "provider origin URL not configured"
			return
		}
		out.URL = p.URL(ep.Path)
		e.fetch(ctx, e.clientFor(p.ID), ep, &out)
	})

	out.CompletedAt = e.now().UTC()
	return out
}

func (e *Executor) clientFor(providerID string) *http.Client {
	if c, ok := e.clients[providerID]; ok {
		return c
	}
	return e.client
}

func (e *Executor) fetch(ctx context.Context, client *http.Client, ep types.Endpoint, out *types.Outcome) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, out.URL, nil)
	if err != nil {
		out.Error = fmt.Sprintf("build request: %v", err)
		return
	}
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("User-Agent", "cdnprobe/1.0")

	start := e.now()
	resp, err := client.Do(req)
	if err != nil {
		out.Duration = e.now().Sub(start).Milliseconds()
		out.Error = err.Error()
		return
	}
	defer resp.Body.Close()

	_, readErr := io.Copy(io.Discard, resp.Body)
	out.Duration = e.now().Sub(start).Milliseconds()

	out.Status = types.Status(resp.StatusCode)
	out.StatusText = resp.Status
	out.Headers = flattenHeaders(resp.Header)

	if readErr != nil {
		out.Error = fmt.Sprintf("read body: %v", readErr)
		return
	}

	out.BlockedBySecurity = ep.IsSecurity() && e.blocks[resp.StatusCode]
	out.Success = out.Status.OK() || out.BlockedBySecurity
	if !out.Success {
		out.Error = "unexpected status " + resp.Status
	}
}

// Vendor runs one vendor action for every provider in order and returns a
// single outcome carrying the per-provider results. It succeeds when any
// provider succeeded.
func (e *Executor) Vendor(ctx context.Context, ep types.Endpoint, providers []types.Provider, round int) types.Outcome {
	out := types.Outcome{
		EndpointID:   ep.ID,
		EndpointName: ep.Name,
		Category:     types.CategoryAPI,
		ProviderID:   types.ProviderAPI,
		Round:        round,
		IsAPITest:    true,
		APIResults:   make([]types.APIResult, 0, len(providers)),
	}

	start := e.now()
	for _, p := range providers {
		res := e.vendorCall(ctx, ep, p)
		out.APIResults = append(out.APIResults, res)
		if res.Success {
			out.Success = true
		}
	}
	out.Duration = e.now().Sub(start).Milliseconds()
	if !out.Success && len(out.APIResults) > 0 {
		out.Error = "no provider succeeded"
	}
	out.CompletedAt = e.now().UTC()
	return out
}

func (e *Executor) vendorCall(ctx context.Context, ep types.Endpoint, p types.Provider) types.APIResult {
	res := types.APIResult{ProviderID: p.ID}

	var pc panics.Catcher
	pc.Try(func() {
		if e.vendor == nil {
			res.Error = "vendor api not configured"
			return
		}
		resp, err := e.vendor.Call(ctx, p.ID, ep.Action)
		res.Status = types.Status(resp.Status)
		if err != nil {
			res.Error = err.Error()
			return
		}
		res.Success = resp.Success()
		if len(resp.Body) > 0 {
			res.Data = vendor.AsJSON(resp.Body)
		}
		if !res.Success {
			res.Error = fmt.Sprintf("vendor returned HTTP %d", resp.Status)
		}
	})
	if r := pc.Recovered(); r != nil {
		slog.Error("probe: vendor call panicked",
			"endpoint", ep.ID, "provider", p.ID, "panic", r.Value)
		res.Success = false
		res.Error = r.AsError().Error()
	}
	return res
}

// guard runs fn and converts a panic into a failed outcome.
func (e *Executor) guard(out *types.Outcome, fn func()) {
	var pc panics.Catcher
	pc.Try(fn)
	if r := pc.Recovered(); r != nil {
		slog.Error("probe: panic during probe",
			"endpoint", out.EndpointID, "provider", out.ProviderID, "panic", r.Value)
		out.Success = false
		out.BlockedBySecurity = false
		out.Error = r.AsError().Error()
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}
