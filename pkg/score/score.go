package score

import (
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// DefaultThreshold is the pass rate below which a provider is flagged.
const DefaultThreshold = 0.7

// State constants returned by Compute.
const (
	StateHealthy  = "healthy"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// ProviderScore is the aggregate for one provider.
type ProviderScore struct {
	ProviderID string  `json:"providerId"`
	Name       string  `json:"name"`
	Passed     int     `json:"passed"`
	Total      int     `json:"total"`
	PassRate   float64 `json:"passRate"`
	State      string  `json:"state"`
}

// Flagged reports whether the provider falls below threshold.
func (s ProviderScore) Flagged(threshold float64) bool {
	return s.Total > 0 && float64(s.Passed)/float64(s.Total) < threshold
}

// Summary is the scored view of a run.
type Summary struct {
	Providers []ProviderScore `json:"providers"`
	Issues    []string        `json:"issues"`
	Threshold float64         `json:"threshold"`
}

// Provider returns the score for id.
func (s Summary) Provider(id string) (ProviderScore, bool) {
	for _, p := range s.Providers {
		if p.ProviderID == id {
			return p, true
		}
	}
	return ProviderScore{}, false
}

// entry is the latest classification of one (provider, endpoint) pair.
type entry struct {
	success bool
	blocked bool
}

func (e entry) passed() bool { return e.success || e.blocked }

// latest indexes outcomes by provider then endpoint. Later outcomes replace
// earlier ones; API outcomes contribute one entry per nested result.
func latest(outcomes []types.Outcome) map[string]map[string]entry {
	idx := make(map[string]map[string]entry)
	put := func(provider, endpoint string, e entry) {
		m, ok := idx[provider]
		if !ok {
			m = make(map[string]entry)
			idx[provider] = m
		}
		m[endpoint] = e
	}

	for _, o := range outcomes {
		if o.IsAPITest {
			for _, r := range o.APIResults {
				put(r.ProviderID, o.EndpointID, entry{success: r.Success})
			}
			continue
		}
		put(o.ProviderID, o.EndpointID, entry{
			success: o.Success,
			blocked: o.BlockedBySecurity,
		})
	}
	return idx
}

// Compute scores outcomes for providers over the in-scope endpoints.
// Outcomes for endpoints or providers outside that scope are ignored.
// A threshold <= 0 uses DefaultThreshold.
func Compute(outcomes []types.Outcome, providers []types.Provider, endpoints []types.Endpoint, threshold float64) Summary {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	idx := latest(outcomes)

	sum := Summary{
		Providers: make([]ProviderScore, 0, len(providers)),
		Issues:    []string{},
		Threshold: threshold,
	}
	for _, p := range providers {
		ps := ProviderScore{ProviderID: p.ID, Name: p.Name}
		if ps.Name == "" {
			ps.Name = p.ID
		}

		recorded := idx[p.ID]
		for _, ep := range endpoints {
			e, ok := recorded[ep.ID]
			if !ok {
				continue
			}
			ps.Total++
			if e.passed() {
				ps.Passed++
			}
		}

		switch {
		case ps.Total == 0:
			ps.State = StateUnknown
		case ps.Flagged(threshold):
			ps.State = StateCritical
		default:
			ps.State = StateHealthy
		}
		if ps.Total > 0 {
			ps.PassRate = float64(ps.Passed) / float64(ps.Total)
		}
		sum.Providers = append(sum.Providers, ps)
	}

	sum.Issues = Issues(sum.Providers, threshold)
	return sum
}

// Issues returns one message per flagged provider, in the order given.
func Issues(scores []ProviderScore, threshold float64) []string {
	issues := []string{}
	for _, s := range scores {
		if s.Flagged(threshold) {
			issues = append(issues, IssueText(s.Name))
		}
	}
	return issues
}

// IssueText is the message reported for a flagged provider.
func IssueText(name string) string {
	return name + ": Multiple tests failing - check configuration"
}
