package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cdnprobe/cdnprobe/pkg/vendor"
)

// vendorProxy handles GET /api-test/{action}?provider=: one vendor API call
// passed through with the vendor's body as data. A call that produced no
// vendor response answers 400.
func (h *Handler) vendorProxy(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	reg := h.Engine().Vendors
	providerID := reg.Normalize(r.URL.Query().Get("provider"))

	resource := strings.TrimPrefix(r.URL.Path, "/api-test")
	if resource == "" || resource == "/" {
		jsonResp(w, http.StatusBadRequest, apiTestResponse{
			Provider: providerID,
			Error:    vendor.ErrMissingAction.Error(),
		})
		return
	}

	resp, err := reg.Call(r.Context(), providerID, resource)
	if err != nil {
		jsonResp(w, http.StatusBadRequest, apiTestResponse{
			Provider: providerID,
			Endpoint: resource,
			Status:   resp.Status,
			Error:    err.Error(),
		})
		return
	}

	jsonResp(w, http.StatusOK, apiTestResponse{
		Provider: resp.ProviderID,
		Endpoint: resource,
		Domain:   reg.Domain(resp.ProviderID),
		Status:   resp.Status,
		Success:  resp.Success(),
		Data:     vendor.AsJSON(resp.Body),
	})
}

// purge handles POST /purge: evicts one URL from a provider's cache.
func (h *Handler) purge(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodPost) {
		return
	}

	var req purgeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if provider == "" {
		provider = strings.ToLower(strings.TrimSpace(req.Type))
	}
	if provider == "" {
		jsonErr(w, http.StatusBadRequest, "provider required")
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		jsonErr(w, http.StatusBadRequest, "url required")
		return
	}

	reg := h.Engine().Vendors
	result, err := reg.Purge(r.Context(), provider, req.URL)
	if err != nil {
		jsonResp(w, http.StatusInternalServerError, map[string]interface{}{
			"ok":    false,
			"error": err.Error(),
		})
		return
	}

	jsonResp(w, http.StatusOK, map[string]interface{}{
		"ok":       true,
		"provider": reg.Normalize(provider),
		"result":   result,
	})
}
