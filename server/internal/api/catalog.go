package api

import (
	"net/http"
	"time"

	"github.com/sourcegraph/conc/iter"

	"github.com/cdnprobe/cdnprobe/pkg/probe"
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// liveness handles GET /health: plain-text liveness for load balancers.
func (h *Handler) liveness(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok")) //nolint:errcheck
}

// health handles GET /api/v1/health: catalog size, vendor accounts, run
// activity and the last report at a glance.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	eng := h.Engine()
	resp := HealthResponse{
		Status:        "ok",
		ProviderCount: len(eng.Catalog.Providers()),
		EndpointCount: len(eng.Catalog.Endpoints()),
		APIAccounts:   eng.Vendors.Accounts(),
		RunsInFlight:  h.deps.Store.Running(),
	}
	if e, ok := h.deps.Store.Last(); ok {
		resp.LastRunID = e.Report.RunID
		resp.LastRunAt = e.UpdatedAt.UTC().Format(time.RFC3339)
		resp.IssueCount = len(e.Report.Summary.Issues)
	}
	if h.deps.Alerts != nil {
		resp.AlertCount = h.deps.Alerts.Firing()
	}
	if h.deps.Clients != nil {
		resp.ClientCount = h.deps.Clients()
	}
	jsonResp(w, http.StatusOK, resp)
}

// providers handles GET /api/v1/providers. With ?host= it returns the single
// provider owning that hostname, or 404.
func (h *Handler) providers(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	eng := h.Engine()

	if host := r.URL.Query().Get("host"); host != "" {
		p, ok := eng.Catalog.Detect(host)
		if !ok {
			jsonErr(w, http.StatusNotFound, "no provider for host")
			return
		}
		jsonResp(w, http.StatusOK, h.toProviderResponse(p))
		return
	}

	list := eng.Catalog.Providers()
	out := make([]ProviderResponse, 0, len(list))
	for _, p := range list {
		out = append(out, h.toProviderResponse(p))
	}
	jsonResp(w, http.StatusOK, out)
}

func (h *Handler) toProviderResponse(p types.Provider) ProviderResponse {
	eng := h.Engine()
	pc, _ := eng.Config.ProviderConfig(p.ID)
	resp := ProviderResponse{Provider: p, API: pc.API.Enabled()}
	if resp.API {
		resp.Domain = eng.Vendors.Domain(p.ID)
	}
	return resp
}

// endpoints handles GET /api/v1/endpoints: the probe catalog in run order.
func (h *Handler) endpoints(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	jsonResp(w, http.StatusOK, h.Engine().Catalog.Endpoints())
}

// certs handles GET /api/v1/certs: checks every HTTPS origin concurrently
// and feeds the result to the alert engine.
func (h *Handler) certs(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	ctx := r.Context()
	checked := iter.Map(h.Engine().Catalog.Providers(), func(p *types.Provider) *probe.CertStatus {
		return probe.CheckCert(ctx, *p)
	})

	out := make([]*probe.CertStatus, 0, len(checked))
	for _, cs := range checked {
		if cs != nil {
			out = append(out, cs)
		}
	}
	if h.deps.Alerts != nil {
		h.deps.Alerts.EvaluateCerts(out)
	}
	jsonResp(w, http.StatusOK, out)
}

// alerts handles GET /api/v1/alerts: firing and recently resolved alerts.
func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	if h.deps.Alerts == nil {
		jsonResp(w, http.StatusOK, []struct{}{})
		return
	}
	jsonResp(w, http.StatusOK, h.deps.Alerts.Active())
}
