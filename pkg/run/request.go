package run

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// ErrConfig is the sentinel wrapped by every ConfigError.
var ErrConfig = errors.New("invalid run configuration")

// ConfigError reports a Request that cannot be run. No probe is executed.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("run: %s: %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

func configErr(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Request is what a caller asks for. Zero values select defaults: rounds and
// delay from the runner settings, every provider, the whole catalog.
type Request struct {
	Rounds int `json:"rounds"`

	// Delay between probes in seconds. Fractions are allowed.
	Delay *float64 `json:"delay,omitempty"`

	Providers []string `json:"providers,omitempty"`
	Endpoints []string `json:"endpoints,omitempty"`
}

// maxDelaySeconds is the largest delay a time.Duration can hold.
const maxDelaySeconds = float64(math.MaxInt64) / float64(time.Second)

// DelaySeconds returns a Request delay value.
func DelaySeconds(d time.Duration) *float64 {
	s := d.Seconds()
	return &s
}

// Catalog is the provider and endpoint set a run is planned against.
// *config.Catalog satisfies it.
type Catalog interface {
	Providers() []types.Provider
	Endpoints() []types.Endpoint
	Provider(id string) (types.Provider, bool)
	Normalize(id string) string
}

// Limits bound and default a Request.
type Limits struct {
	DefaultRounds int
	MaxRounds     int
	DefaultDelay  time.Duration
}

// Plan is a validated Request resolved against a catalog.
type Plan struct {
	Rounds    int
	Delay     time.Duration
	Providers []types.Provider
	Endpoints []types.Endpoint
}

// PerRound is the number of probes in one round.
func (p Plan) PerRound() int {
	n := 0
	for _, ep := range p.Endpoints {
		if ep.IsAPI() {
			n++
			continue
		}
		n += len(p.Providers)
	}
	return n
}

// Total is the number of probes the plan will execute.
func (p Plan) Total() int { return p.Rounds * p.PerRound() }

// Request returns the fully resolved request that produced p.
func (p Plan) Request() Request {
	req := Request{
		Rounds:    p.Rounds,
		Delay:     DelaySeconds(p.Delay),
		Providers: make([]string, 0, len(p.Providers)),
		Endpoints: make([]string, 0, len(p.Endpoints)),
	}
	for _, pr := range p.Providers {
		req.Providers = append(req.Providers, pr.ID)
	}
	for _, ep := range p.Endpoints {
		req.Endpoints = append(req.Endpoints, ep.ID)
	}
	return req
}

// NewPlan validates req against cat. Every failure is a *ConfigError.
func NewPlan(req Request, cat Catalog, lim Limits) (Plan, error) {
	plan := Plan{Rounds: req.Rounds, Delay: lim.DefaultDelay}

	if plan.Rounds == 0 {
		plan.Rounds = lim.DefaultRounds
	}
	if plan.Rounds < 1 {
		return Plan{}, configErr("rounds", "must be at least 1, got %d", req.Rounds)
	}
	if lim.MaxRounds > 0 && plan.Rounds > lim.MaxRounds {
		return Plan{}, configErr("rounds", "must be at most %d, got %d", lim.MaxRounds, plan.Rounds)
	}

	if req.Delay != nil {
		d := *req.Delay
		if math.IsNaN(d) || math.IsInf(d, 0) || d < 0 {
			return Plan{}, configErr("delay", "must be a non-negative number of seconds")
		}
		if d >= maxDelaySeconds {
			return Plan{}, configErr("delay", "must be below %.0f seconds", maxDelaySeconds)
		}
		plan.Delay = time.Duration(d * float64(time.Second))
	}

	providers, err := selectProviders(req.Providers, cat)
	if err != nil {
		return Plan{}, err
	}
	plan.Providers = providers

	endpoints, err := selectEndpoints(req.Endpoints, cat)
	if err != nil {
		return Plan{}, err
	}
	plan.Endpoints = endpoints

	if plan.PerRound() == 0 {
		return Plan{}, configErr("endpoints", "nothing to probe")
	}
	return plan, nil
}

func selectProviders(ids []string, cat Catalog) ([]types.Provider, error) {
	if len(ids) == 0 {
		all := cat.Providers()
		if len(all) == 0 {
			return nil, configErr("providers", "no providers configured")
		}
		return all, nil
	}

	seen := make(map[string]bool, len(ids))
	var out []types.Provider
	for _, raw := range ids {
		id := cat.Normalize(raw)
		if id == "" || seen[id] {
			continue
		}
		p, ok := cat.Provider(id)
		if !ok {
			return nil, configErr("providers", "unknown provider %q", strings.TrimSpace(raw))
		}
		seen[id] = true
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, configErr("providers", "no providers selected")
	}
	return out, nil
}

// selectEndpoints keeps catalog order regardless of the order ids are given in.
func selectEndpoints(ids []string, cat Catalog) ([]types.Endpoint, error) {
	all := cat.Endpoints()
	if len(ids) == 0 {
		return all, nil
	}

	want := make(map[string]bool, len(ids))
	for _, raw := range ids {
		id := strings.TrimSpace(raw)
		if id != "" {
			want[id] = true
		}
	}
	var out []types.Endpoint
	for _, ep := range all {
		if want[ep.ID] {
			out = append(out, ep)
			delete(want, ep.ID)
		}
	}
	for _, raw := range ids {
		if id := strings.TrimSpace(raw); want[id] {
			return nil, configErr("endpoints", "unknown endpoint %q", id)
		}
	}
	if len(out) == 0 {
		return nil, configErr("endpoints", "no endpoints selected")
	}
	return out, nil
}
