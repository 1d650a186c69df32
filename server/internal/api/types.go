package api

import (
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string   `json:"status"`
	ProviderCount int      `json:"provider_count"`
	EndpointCount int      `json:"endpoint_count"`
	APIAccounts   []string `json:"api_accounts"` // ids reachable through /api-test and /purge
	RunsInFlight  int      `json:"runs_in_flight"`
	LastRunID     string   `json:"last_run_id,omitempty"`
	LastRunAt     string   `json:"last_run_at,omitempty"` // RFC3339
	IssueCount    int      `json:"issue_count"`
	AlertCount    int      `json:"alert_count"`
	ClientCount   int      `json:"client_count"`
}

// ProviderResponse is one entry in GET /api/v1/providers.
type ProviderResponse struct {
	types.Provider
	API    bool   `json:"api"`
	Domain string `json:"domain,omitempty"`
}

// LastRunResponse is the payload for GET /api/v1/runs/last: the stored
// report plus derived values the dashboard shows next to it.
type LastRunResponse struct {
	*run.Report
	AverageDurationMs float64   `json:"averageDurationMs"`
	StoredAt          time.Time `json:"storedAt"`
}

// apiTestResponse is the payload for GET /api-test/{action}.
type apiTestResponse struct {
	Provider string `json:"provider"`
	Endpoint string `json:"endpoint"`
	Domain   string `json:"domain,omitempty"`
	Status   int    `json:"status"`
	Success  bool   `json:"success"`
	Data     any    `json:"data"`
	Error    string `json:"error,omitempty"`
}

// purgeRequest is the body of POST /purge. Type is accepted as an alias of
// Provider.
type purgeRequest struct {
	Provider string `json:"provider"`
	Type     string `json:"type"`
	URL      string `json:"url"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
