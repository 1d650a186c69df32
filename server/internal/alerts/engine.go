package alerts

import (
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/config"
	"github.com/cdnprobe/cdnprobe/pkg/probe"
	"github.com/cdnprobe/cdnprobe/pkg/run"
)

const (
	defaultCooldown   = 15 * time.Minute
	defaultSeverity   = "warning"
	maxHistoryLen     = 200
	recentWindowHours = 1
	deliveryTimeout   = 10 * time.Second
)

// Rule names.
const (
	RuleProviderIssue = "provider_issue"
	RuleCertExpiry    = "cert_expiry"
)

// Alert states.
const (
	StateFiring   = "firing"
	StateResolved = "resolved"
)

// Alert represents a single alert event.
type Alert struct {
	ID         string     `json:"id"`
	Rule       string     `json:"rule"`
	ProviderID string     `json:"provider_id"`
	RunID      string     `json:"run_id,omitempty"`
	Severity   string     `json:"severity"`
	Message    string     `json:"message"`
	Value      float64    `json:"value"`
	FiredAt    time.Time  `json:"fired_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	State      string     `json:"state"`
}

// Engine turns run summaries and certificate checks into alerts and delivers
// webhook notifications when they fire or resolve.
//
// Engine is safe for concurrent use.
type Engine struct {
	severity string
	cooldown time.Duration
	webhooks []config.WebhookConfig

	mu       sync.Mutex
	active   map[string]*Alert    // key: "rule:providerID"
	lastFire map[string]time.Time // last fire time per key (for cooldown)
	history  []*Alert             // recently resolved alerts
	client   *http.Client
	now      func() time.Time
	wg       sync.WaitGroup
}

// New creates an Engine from the server alert configuration.
func New(cfg config.AlertsConfig) *Engine {
	sev := cfg.Severity
	if sev == "" {
		sev = defaultSeverity
	}
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Engine{
		severity: sev,
		cooldown: cooldown,
		webhooks: cfg.Webhooks,
		active:   make(map[string]*Alert),
		lastFire: make(map[string]time.Time),
		client:   &http.Client{Timeout: deliveryTimeout},
		now:      time.Now,
	}
}

// Evaluate checks every provider in rep's summary. A flagged provider fires;
// a previously flagged provider that now passes resolves. Providers with no
// recorded outcomes and cancelled runs leave alert state untouched.
func (e *Engine) Evaluate(rep *run.Report) {
	if rep == nil || rep.Cancelled {
		return
	}
	threshold := rep.Summary.Threshold
	for _, ps := range rep.Summary.Providers {
		if ps.Total == 0 {
			continue
		}
		fires, value := issueCondition(ps, threshold)
		e.apply(RuleProviderIssue, ps.ProviderID, rep.RunID, e.severity, fires, value,
			fmt.Sprintf("[%s] %s: %d/%d tests passing (%.0f%% < %.0f%%)",
				e.severity, ps.Name, ps.Passed, ps.Total, value*100, threshold*100))
	}
}

// EvaluateCerts fires for expiring or expired origin certificates.
// Unreachable origins leave alert state untouched.
func (e *Engine) EvaluateCerts(certs []*probe.CertStatus) {
	for _, cs := range certs {
		if cs == nil || cs.Status == probe.CertUnreachable {
			continue
		}
		fires, sev := certCondition(cs)
		e.apply(RuleCertExpiry, cs.ProviderID, "", sev, fires, float64(cs.DaysLeft),
			fmt.Sprintf("[%s] certificate for %s is %s (%d days left)",
				sev, cs.Endpoint, cs.Status, cs.DaysLeft))
	}
}

func (e *Engine) apply(rule, providerID, runID, severity string, fires bool, value float64, msg string) {
	key := rule + ":" + providerID
	now := e.now()

	e.mu.Lock()
	if fires {
		if _, ok := e.active[key]; ok || now.Sub(e.lastFire[key]) <= e.cooldown {
			e.mu.Unlock()
			return
		}
		a := &Alert{
			ID:         fmt.Sprintf("%s:%d", key, now.UnixNano()),
			Rule:       rule,
			ProviderID: providerID,
			RunID:      runID,
			Severity:   severity,
			Message:    msg,
			Value:      value,
			FiredAt:    now,
			State:      StateFiring,
		}
		e.active[key] = a
		e.lastFire[key] = now
		alertCopy := *a
		e.mu.Unlock()

		slog.Warn("alerts: fired",
			"rule", rule,
			"provider", providerID,
			"value", value,
			"severity", severity,
		)
		e.dispatch(&alertCopy)
		return
	}

	a, ok := e.active[key]
	if !ok {
		e.mu.Unlock()
		return
	}
	resolved := now
	a.State = StateResolved
	a.ResolvedAt = &resolved
	delete(e.active, key)

	e.history = append(e.history, a)
	if len(e.history) > maxHistoryLen {
		e.history = e.history[len(e.history)-maxHistoryLen:]
	}
	alertCopy := *a
	e.mu.Unlock()

	slog.Info("alerts: resolved", "rule", rule, "provider", providerID)
	e.dispatch(&alertCopy)
}

func (e *Engine) dispatch(a *Alert) {
	if len(e.webhooks) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.deliver(a)
	}()
}

// Wait blocks until in-flight webhook deliveries finish.
func (e *Engine) Wait() { e.wg.Wait() }

// Active returns copies of all currently firing alerts plus any alerts
// resolved within the past hour, newest first.
func (e *Engine) Active() []*Alert {
	e.mu.Lock()
	defer e.mu.Unlock()

	cutoff := e.now().Add(-recentWindowHours * time.Hour)
	out := make([]*Alert, 0, len(e.active))

	for _, a := range e.active {
		cp := *a
		out = append(out, &cp)
	}
	for _, a := range e.history {
		if a.ResolvedAt != nil && a.ResolvedAt.After(cutoff) {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FiredAt.After(out[j].FiredAt) })
	return out
}

// Firing returns the number of currently firing alerts.
func (e *Engine) Firing() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.active)
}
