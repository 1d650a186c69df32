package api

import (
	"net/http"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/cdnprobe/cdnprobe/pkg/run"
)

const metricPrefix = "cdnprobe_"

// metrics handles GET /metrics: the last report and server state in the
// Prometheus text format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}

	var rep *run.Report
	if e, ok := h.deps.Store.Last(); ok {
		rep = e.Report
	}
	families := h.metricFamilies(rep)

	w.Header().Set("Content-Type", string(expfmt.NewFormat(expfmt.TypeTextPlain)))
	w.WriteHeader(http.StatusOK)
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return
		}
	}
}

// metricFamilies builds the exposition, sorted by family name.
func (h *Handler) metricFamilies(rep *run.Report) []*dto.MetricFamily {
	var families []*dto.MetricFamily
	add := func(name, help string, metrics ...*dto.Metric) {
		if len(metrics) == 0 {
			return
		}
		families = append(families, &dto.MetricFamily{
			Name:   proto.String(metricPrefix + name),
			Help:   proto.String(help),
			Type:   dto.MetricType_GAUGE.Enum(),
			Metric: metrics,
		})
	}

	add("runs_in_flight", "Runs currently executing.", gauge(float64(h.deps.Store.Running())))
	if h.deps.Alerts != nil {
		add("alerts_firing", "Alerts currently firing.", gauge(float64(h.deps.Alerts.Firing())))
	}
	if h.deps.Clients != nil {
		add("ws_clients", "Connected WebSocket clients.", gauge(float64(h.deps.Clients())))
	}

	if rep != nil {
		add("last_run_timestamp_seconds", "Finish time of the last run.",
			gauge(float64(rep.FinishedAt.Unix())))
		add("last_run_duration_seconds", "Wall time of the last run.",
			gauge(rep.Duration().Seconds()))
		add("last_run_cancelled", "1 if the last run was cancelled.",
			gauge(boolValue(rep.Cancelled)))
		add("last_run_results", "Probe outcomes recorded by the last run.",
			gauge(float64(rep.Completed)))
		add("last_run_average_response_ms", "Mean HTTP response time of the last run.",
			gauge(rep.AverageDuration()))

		var passed, total, rate, issue []*dto.Metric
		for _, ps := range rep.Summary.Providers {
			l := []*dto.LabelPair{label("provider", ps.ProviderID)}
			passed = append(passed, gauge(float64(ps.Passed), l...))
			total = append(total, gauge(float64(ps.Total), l...))
			rate = append(rate, gauge(ps.PassRate, l...))
			issue = append(issue, gauge(boolValue(ps.Flagged(rep.Summary.Threshold)), l...))
		}
		add("provider_tests_passed", "Tests passed per provider in the last run.", passed...)
		add("provider_tests_total", "Tests with a result per provider in the last run.", total...)
		add("provider_pass_rate", "Pass rate per provider in the last run.", rate...)
		add("provider_issue", "1 if the provider is below the issue threshold.", issue...)

		// Latest duration per (provider, endpoint); later rounds replace earlier ones.
		type key struct{ provider, endpoint string }
		latest := make(map[key]float64)
		for _, o := range rep.Results {
			if o.IsAPITest || o.Status == 0 {
				continue
			}
			latest[key{o.ProviderID, o.EndpointID}] = float64(o.Duration)
		}
		var durations []*dto.Metric
		for k, v := range latest {
			durations = append(durations, gauge(v, label("provider", k.provider), label("endpoint", k.endpoint)))
		}
		sort.Slice(durations, func(i, j int) bool {
			return labelKey(durations[i]) < labelKey(durations[j])
		})
		add("endpoint_response_ms", "Latest response time per provider and endpoint.", durations...)
	}

	sort.Slice(families, func(i, j int) bool { return families[i].GetName() < families[j].GetName() })
	return families
}

func gauge(v float64, labels ...*dto.LabelPair) *dto.Metric {
	return &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

func labelKey(m *dto.Metric) string {
	var s string
	for _, l := range m.GetLabel() {
		s += l.GetName() + "=" + l.GetValue() + ";"
	}
	return s
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
