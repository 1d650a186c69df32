package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/pkg/score"
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// slowResponseMs marks a provider's average response time as worth a hint.
const slowResponseMs = 1500

// DiagnosticHint is one human-readable insight about a provider's last run.
// The UI displays these as chips on the provider card; clicking one shows
// Detail.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier (used for dedup/ordering).
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level string `json:"level"`
	// Title is a short label shown on the chip (≤ 5 words).
	Title string `json:"title"`
	// Detail is the full explanation shown on click/hover.
	Detail string `json:"detail"`
	// Value is an optional numeric value associated with this hint (e.g. pass rate).
	Value *float64 `json:"value,omitempty"`
}

// ProviderDiagnostics groups the hints for one provider.
type ProviderDiagnostics struct {
	ProviderID string           `json:"provider_id"`
	Name       string           `json:"name"`
	State      string           `json:"state"`
	PassRate   float64          `json:"pass_rate"`
	Hints      []DiagnosticHint `json:"hints"`
}

// diagnostics handles GET /api/v1/diagnostics: hints for every provider in
// the last stored report.
func (h *Handler) diagnostics(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	e, ok := h.deps.Store.Last()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	jsonResp(w, http.StatusOK, reportDiagnostics(e.Report))
}

func reportDiagnostics(rep *run.Report) []ProviderDiagnostics {
	endpoints := make(map[string]types.Endpoint, len(rep.Endpoints))
	for _, ep := range rep.Endpoints {
		endpoints[ep.ID] = ep
	}
	out := make([]ProviderDiagnostics, 0, len(rep.Summary.Providers))
	for _, ps := range rep.Summary.Providers {
		out = append(out, ProviderDiagnostics{
			ProviderID: ps.ProviderID,
			Name:       ps.Name,
			State:      ps.State,
			PassRate:   ps.PassRate,
			Hints:      computeDiagnostics(ps, rep.Summary.Threshold, rep.Results, endpoints),
		})
	}
	return out
}

var levelRank = map[string]int{"critical": 0, "warning": 1, "info": 2, "ok": 3}

// computeDiagnostics derives hints for one provider from the run's outcomes.
// Diagnostics are ordered: critical first, then warnings, then info.
func computeDiagnostics(ps score.ProviderScore, threshold float64, results []types.Outcome, endpoints map[string]types.Endpoint) []DiagnosticHint {
	if ps.Total == 0 {
		return []DiagnosticHint{{
			Key:   "not_probed",
			Level: "info",
			Title: "No results yet",
			Detail: "No probe recorded a result for this provider in the last run. " +
				"It was either deselected or the run was cancelled before reaching it.",
		}}
	}

	var (
		hints       []DiagnosticHint
		unreachable []string
		failing     []string
		unblocked   []string
		apiErrors   []string
		durSum      int64
		durN        int
	)
	for _, o := range results {
		if o.IsAPITest {
			for _, res := range o.APIResults {
				if res.ProviderID == ps.ProviderID && !res.Success {
					apiErrors = appendOnce(apiErrors, o.EndpointName)
				}
			}
			continue
		}
		if o.ProviderID != ps.ProviderID {
			continue
		}
		ep := endpoints[o.EndpointID]
		switch {
		case o.Status == 0:
			unreachable = appendOnce(unreachable, o.EndpointName)
		case !o.Passed():
			failing = appendOnce(failing, o.EndpointName)
		case ep.IsSecurity() && o.Success && !o.BlockedBySecurity:
			unblocked = appendOnce(unblocked, o.EndpointName)
		}
		if o.Status != 0 {
			durSum += o.Duration
			durN++
		}
	}

	// ── Below threshold ───────────────────────────────────────────────────────
	if ps.Flagged(threshold) {
		v := ps.PassRate * 100
		hints = append(hints, DiagnosticHint{
			Key:   "issue",
			Level: "critical",
			Title: fmt.Sprintf("%.0f%% passing", v),
			Detail: fmt.Sprintf(
				"Only %d of %d tests passed, under the %.0f%% threshold. "+
					"Start with the failing endpoints listed next to this hint.",
				ps.Passed, ps.Total, threshold*100),
			Value: &v,
		})
	}

	// ── Origin unreachable ────────────────────────────────────────────────────
	if len(unreachable) > 0 {
		n := float64(len(unreachable))
		hints = append(hints, DiagnosticHint{
			Key:   "unreachable",
			Level: "critical",
			Title: "Origin unreachable",
			Detail: fmt.Sprintf(
				"No HTTP response was received for: %s. "+
					"Check DNS for the origin hostname, the TLS certificate, and whether the edge is up.",
				strings.Join(unreachable, ", ")),
			Value: &n,
		})
	}

	// ── Failing endpoints ─────────────────────────────────────────────────────
	if len(failing) > 0 {
		n := float64(len(failing))
		hints = append(hints, DiagnosticHint{
			Key:   "failing_endpoints",
			Level: "warning",
			Title: fmt.Sprintf("%d endpoints failing", len(failing)),
			Detail: fmt.Sprintf(
				"These endpoints answered with an error status: %s. "+
					"A 403 outside the security category usually means a WAF rule is too broad.",
				strings.Join(failing, ", ")),
			Value: &n,
		})
	}

	// ── Attack probes let through ─────────────────────────────────────────────
	if len(unblocked) > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "waf_not_blocking",
			Level: "warning",
			Title: "Attack not blocked",
			Detail: fmt.Sprintf(
				"The origin served these attack probes normally: %s. "+
					"They count as passed, but the WAF did not reject them. "+
					"Check that the provider's firewall rules are enabled for this domain.",
				strings.Join(unblocked, ", ")),
		})
	}

	// ── Vendor API ────────────────────────────────────────────────────────────
	if len(apiErrors) > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "api_errors",
			Level: "warning",
			Title: "Vendor API errors",
			Detail: fmt.Sprintf(
				"These API checks failed: %s. "+
					"Verify the API token environment variable and the configured domain.",
				strings.Join(apiErrors, ", ")),
		})
	}

	// ── Latency ───────────────────────────────────────────────────────────────
	if durN > 0 {
		avg := float64(durSum) / float64(durN)
		if avg >= slowResponseMs {
			hints = append(hints, DiagnosticHint{
				Key:   "slow",
				Level: "info",
				Title: fmt.Sprintf("%.0f ms average", avg),
				Detail: "Responses were slow on average. Large files and cache misses dominate this number, " +
					"so compare the cache header endpoints before blaming the edge.",
				Value: &avg,
			})
		}
	}

	// ── All clear ─────────────────────────────────────────────────────────────
	if len(hints) == 0 {
		v := ps.PassRate * 100
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: fmt.Sprintf("All %d tests passed.", ps.Total),
			Value:  &v,
		})
	}

	sort.SliceStable(hints, func(i, j int) bool {
		return levelRank[hints[i].Level] < levelRank[hints[j].Level]
	})
	return hints
}

func appendOnce(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}
