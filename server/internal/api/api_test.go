package api_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/common/expfmt"

	"github.com/cdnprobe/cdnprobe/pkg/config"
	"github.com/cdnprobe/cdnprobe/pkg/engine"
	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/server/internal/alerts"
	"github.com/cdnprobe/cdnprobe/server/internal/api"
	"github.com/cdnprobe/cdnprobe/server/internal/auth"
	"github.com/cdnprobe/cdnprobe/server/internal/store"
)

// --- test helpers -----------------------------------------------------------

// fixture is a Handler wired to two fake origins and one fake vendor API.
// Provider a (Alpha) passes everything; provider b (Beta) answers 500.
type fixture struct {
	h       *api.Handler
	store   *store.Store
	alerts  *alerts.Engine
	history *store.History
	purges  chan string
}

type fixtureOpts struct {
	history bool
	auth    func(http.Handler) http.Handler
	pubs    []run.Publisher
}

func newFixture(t *testing.T, opts fixtureOpts) *fixture {
	t.Helper()

	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/security/") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte("ok")) //nolint:errcheck
	}))
	t.Cleanup(good.Close)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(bad.Close)

	purges := make(chan string, 4)
	vendorAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/domains":
			w.Write([]byte(`{"data":[{"name":"a.example"}]}`)) //nolint:errcheck
		case r.Method == http.MethodPost:
			var body map[string]any
			json.NewDecoder(r.Body).Decode(&body) //nolint:errcheck
			purges <- r.URL.Path
			w.Write([]byte(`{"purged":true}`)) //nolint:errcheck
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(vendorAPI.Close)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
providers:
  - id: a
    name: Alpha
    origin_url: %s
    hosts: [a.example]
    aliases: [alphacloud]
    api:
      dialect: generic
      base_url: %s
      domain: a.example
  - id: b
    name: Beta
    origin_url: %s
    hosts: [b.example]
vendors: []
endpoints:
  - {id: root, name: Root, category: performance, path: /}
  - {id: sql, name: SQL, category: security, path: /security/sql}
  - {id: api-domains, name: "API: Domains", category: api, action: domains}
runner:
  default_rounds: 1
  max_rounds: 3
  default_delay: 0s
`, good.URL, vendorAPI.URL, bad.URL)))
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}

	f := &fixture{
		store:  store.New(),
		alerts: alerts.New(config.AlertsConfig{}),
		purges: purges,
	}
	if opts.history {
		hist, err := store.OpenHistory(context.Background(), filepath.Join(t.TempDir(), "runs.db"), 10)
		if err != nil {
			t.Fatalf("OpenHistory: %v", err)
		}
		t.Cleanup(func() { hist.Close() })
		f.history = hist
	}

	f.h = api.New(engine.New(cfg), api.Deps{
		Store:        f.store,
		Alerts:       f.alerts,
		History:      f.history,
		HistoryLimit: 5,
		Publishers:   opts.pubs,
		Clients:      func() int { return 3 },
		Auth:         opts.auth,
		CORSOrigin:   "*",
	})
	t.Cleanup(f.alerts.Wait)
	return f
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func post(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	h.ServeHTTP(rr, req)
	return rr
}

func decode(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decode JSON: %v (body: %s)", err, rr.Body.String())
	}
}

// runOnce starts a one-round run and returns the decoded report.
func runOnce(t *testing.T, f *fixture) run.Report {
	t.Helper()
	rr := post(t, f.h, "/api/v1/runs", `{"rounds":1,"delay":0}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("POST /api/v1/runs: got %d (%s)", rr.Code, rr.Body.String())
	}
	var rep run.Report
	decode(t, rr, &rep)
	return rep
}

type sseEvent struct {
	name string
	data string
}

// readSSE parses frames from body until it ends or stop returns true.
func readSSE(t *testing.T, sc *bufio.Scanner, stop func(sseEvent) bool) []sseEvent {
	t.Helper()
	var (
		events []sseEvent
		cur    sseEvent
	)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "" && cur.name != "":
			events = append(events, cur)
			if stop != nil && stop(cur) {
				return events
			}
			cur = sseEvent{}
		}
	}
	return events
}

// --- /health, /api/v1/health ------------------------------------------------

func TestLiveness(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	rr := get(t, f.h, "/health")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Errorf("got %d %q, want 200 ok", rr.Code, rr.Body.String())
	}
}

func TestHealth_BeforeAndAfterRun(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	var resp api.HealthResponse
	decode(t, get(t, f.h, "/api/v1/health"), &resp)
	if resp.Status != "ok" || resp.ProviderCount != 2 || resp.EndpointCount != 3 {
		t.Errorf("health: %+v", resp)
	}
	if resp.LastRunID != "" || resp.ClientCount != 3 {
		t.Errorf("health before run: %+v", resp)
	}
	if len(resp.APIAccounts) != 1 || resp.APIAccounts[0] != "a" {
		t.Errorf("api_accounts: got %v, want [a]", resp.APIAccounts)
	}

	rep := runOnce(t, f)

	resp = api.HealthResponse{}
	decode(t, get(t, f.h, "/api/v1/health"), &resp)
	if resp.LastRunID != rep.RunID {
		t.Errorf("last_run_id: got %q, want %q", resp.LastRunID, rep.RunID)
	}
	if resp.IssueCount != 1 || resp.AlertCount != 1 {
		t.Errorf("issue_count=%d alert_count=%d, want 1/1", resp.IssueCount, resp.AlertCount)
	}
}

func TestHealth_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if rr := post(t, f.h, "/api/v1/health", ""); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

// --- POST /api/v1/runs ------------------------------------------------------

func TestStartRun_ReturnsScoredReport(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	rep := runOnce(t, f)

	if rep.Total != 5 || len(rep.Results) != 5 {
		t.Fatalf("total=%d results=%d, want 5/5", rep.Total, len(rep.Results))
	}
	alpha, _ := rep.Summary.Provider("a")
	beta, _ := rep.Summary.Provider("b")
	if alpha.Passed != 3 || alpha.Total != 3 {
		t.Errorf("alpha: %d/%d, want 3/3", alpha.Passed, alpha.Total)
	}
	if beta.Passed != 0 || beta.Total != 3 {
		t.Errorf("beta: %d/%d, want 0/3", beta.Passed, beta.Total)
	}
	want := []string{"Beta: Multiple tests failing - check configuration"}
	if len(rep.Summary.Issues) != 1 || rep.Summary.Issues[0] != want[0] {
		t.Errorf("issues: got %v, want %v", rep.Summary.Issues, want)
	}

	e, ok := f.store.Last()
	if !ok || e.Report.RunID != rep.RunID {
		t.Error("report not stored")
	}
	if f.store.Running() != 0 {
		t.Errorf("running: got %d, want 0", f.store.Running())
	}
}

func TestStartRun_AliasAndEmptyBody(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	rr := post(t, f.h, "/tests/run", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var rep run.Report
	decode(t, rr, &rep)
	if rep.Config.Rounds != 1 || rep.Total != 5 {
		t.Errorf("defaults not applied: rounds=%d total=%d", rep.Config.Rounds, rep.Total)
	}
}

func TestStartRun_BadRequests(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{rounds:`, "invalid JSON body"},
		{"too many rounds", `{"rounds":4}`, "rounds"},
		{"negative delay", `{"delay":-1}`, "delay"},
		{"unknown provider", `{"providers":["zzz"]}`, "zzz"},
		{"unknown endpoint", `{"endpoints":["nope"]}`, "nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := post(t, f.h, "/api/v1/runs", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status: got %d, want 400", rr.Code)
			}
			var resp map[string]string
			decode(t, rr, &resp)
			if !strings.Contains(resp["error"], tt.want) {
				t.Errorf("error: got %q, want it to mention %q", resp["error"], tt.want)
			}
		})
	}
	if _, ok := f.store.Last(); ok {
		t.Error("rejected requests must not store a report")
	}
}

func TestStartRun_MethodNotAllowed(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if rr := get(t, f.h, "/api/v1/runs"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("status: got %d, want 405", rr.Code)
	}
}

func TestStartRun_ExtraPublishersSeeEveryEvent(t *testing.T) {
	var (
		mu    sync.Mutex
		types []string
	)
	pub := run.PublisherFunc(func(ev run.Event) {
		mu.Lock()
		types = append(types, ev.Type)
		mu.Unlock()
	})
	f := newFixture(t, fixtureOpts{pubs: []run.Publisher{pub}})
	runOnce(t, f)

	mu.Lock()
	defer mu.Unlock()
	progress := 0
	for _, typ := range types {
		if typ == run.EventProgress {
			progress++
		}
	}
	if types[0] != run.EventStarted || types[len(types)-1] != run.EventComplete {
		t.Errorf("events: %v", types)
	}
	if progress != 5 {
		t.Errorf("progress events: got %d, want 5", progress)
	}
}

// --- GET /api/v1/runs/stream ------------------------------------------------

func TestStreamRun_EventsInOrder(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/v1/runs/stream?rounds=1&delay=0&providers=alphacloud,b")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type: got %q", ct)
	}

	events := readSSE(t, bufio.NewScanner(resp.Body), nil)
	if len(events) < 3 {
		t.Fatalf("events: %v", events)
	}
	if events[0].name != run.EventStarted {
		t.Errorf("first event: got %q, want started", events[0].name)
	}
	last := events[len(events)-1]
	if last.name != run.EventComplete {
		t.Fatalf("last event: got %q, want complete", last.name)
	}

	progress := 0
	for _, ev := range events {
		if ev.name == run.EventProgress {
			progress++
			var p run.Progress
			if err := json.Unmarshal([]byte(ev.data), &p); err != nil {
				t.Fatalf("progress data: %v", err)
			}
			if p.Completed != progress || p.Total != 5 {
				t.Errorf("progress %d: %+v", progress, p)
			}
		}
	}
	if progress != 5 {
		t.Errorf("progress events: got %d, want 5", progress)
	}

	var rep run.Report
	if err := json.Unmarshal([]byte(last.data), &rep); err != nil {
		t.Fatalf("complete data: %v", err)
	}
	if len(rep.Results) != 5 || rep.Providers[0].ID != "a" {
		t.Errorf("report: results=%d providers=%v", len(rep.Results), rep.Providers)
	}
}

func TestStreamRun_ConfigErrorEvent(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	for _, q := range []string{"rounds=abc", "delay=soon", "providers=zzz", "rounds=9"} {
		resp, err := http.Get(srv.URL + "/api/v1/runs/stream?" + q)
		if err != nil {
			t.Fatalf("GET: %v", err)
		}
		events := readSSE(t, bufio.NewScanner(resp.Body), nil)
		resp.Body.Close()

		if len(events) != 1 || events[0].name != run.EventError {
			t.Errorf("%s: events %v, want a single error event", q, events)
			continue
		}
		var info run.ErrorInfo
		json.Unmarshal([]byte(events[0].data), &info) //nolint:errcheck
		if info.Error == "" {
			t.Errorf("%s: empty error message", q)
		}
	}
}

func TestStreamRun_DisconnectCancelsRun(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	srv := httptest.NewServer(f.h)
	defer srv.Close()

	// A long delay keeps the run waiting after the first probe.
	resp, err := http.Get(srv.URL + "/tests/run/stream?rounds=3&delay=30")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	readSSE(t, bufio.NewScanner(resp.Body), func(ev sseEvent) bool {
		return ev.name == run.EventProgress
	})
	resp.Body.Close()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if e, ok := f.store.Last(); ok {
			if !e.Report.Cancelled {
				t.Fatal("stored report should be cancelled")
			}
			if e.Report.Completed != 1 {
				t.Errorf("completed: got %d, want 1", e.Report.Completed)
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("run was not cancelled after the client disconnected")
}

// --- /api/v1/runs/last, /api/v1/runs/history --------------------------------

func TestLastRun(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	if rr := get(t, f.h, "/api/v1/runs/last"); rr.Code != http.StatusNotFound {
		t.Fatalf("before any run: got %d, want 404", rr.Code)
	}

	rep := runOnce(t, f)

	rr := get(t, f.h, "/api/v1/runs/last")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["runId"] != rep.RunID {
		t.Errorf("runId: got %v, want %s", resp["runId"], rep.RunID)
	}
	for _, key := range []string{"summary", "matrix", "results", "averageDurationMs", "storedAt"} {
		if _, ok := resp[key]; !ok {
			t.Errorf("missing %q", key)
		}
	}
}

func TestHistory_Disabled(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	if rr := get(t, f.h, "/api/v1/runs/history"); rr.Code != http.StatusNotFound {
		t.Errorf("status: got %d, want 404", rr.Code)
	}
}

func TestHistory_ListAndGet(t *testing.T) {
	f := newFixture(t, fixtureOpts{history: true})

	rr := get(t, f.h, "/api/v1/runs/history")
	var empty []store.RunSummary
	decode(t, rr, &empty)
	if len(empty) != 0 {
		t.Fatalf("history before run: %v", empty)
	}

	first := runOnce(t, f)
	second := runOnce(t, f)

	var list []store.RunSummary
	decode(t, get(t, f.h, "/api/v1/runs/history"), &list)
	if len(list) != 2 || list[0].RunID != second.RunID || list[1].RunID != first.RunID {
		t.Fatalf("history: %+v", list)
	}

	decode(t, get(t, f.h, "/api/v1/runs/history?limit=1"), &list)
	if len(list) != 1 {
		t.Errorf("limit=1: got %d entries", len(list))
	}
	if rr := get(t, f.h, "/api/v1/runs/history?limit=0"); rr.Code != http.StatusBadRequest {
		t.Errorf("limit=0: got %d, want 400", rr.Code)
	}

	var rep run.Report
	decode(t, get(t, f.h, "/api/v1/runs/history/"+first.RunID), &rep)
	if rep.RunID != first.RunID || len(rep.Results) != 5 {
		t.Errorf("get: %s with %d results", rep.RunID, len(rep.Results))
	}
	if rr := get(t, f.h, "/api/v1/runs/history/missing"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown id: got %d, want 404", rr.Code)
	}
}

// --- catalog ----------------------------------------------------------------

func TestProviders(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	var list []api.ProviderResponse
	decode(t, get(t, f.h, "/api/v1/providers"), &list)
	if len(list) != 2 || list[0].ID != "a" || list[1].ID != "b" {
		t.Fatalf("providers: %+v", list)
	}
	if !list[0].API || list[0].Domain != "a.example" {
		t.Errorf("alpha api: %+v", list[0])
	}
	if list[1].API {
		t.Errorf("beta should have no api: %+v", list[1])
	}
}

func TestProviders_DetectByHost(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	var p api.ProviderResponse
	decode(t, get(t, f.h, "/api/v1/providers?host=cdn.b.example:443"), &p)
	if p.ID != "b" {
		t.Errorf("detected: got %q, want b", p.ID)
	}
	if rr := get(t, f.h, "/api/v1/providers?host=unknown.test"); rr.Code != http.StatusNotFound {
		t.Errorf("unknown host: got %d, want 404", rr.Code)
	}
}

func TestEndpoints(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	var list []map[string]interface{}
	decode(t, get(t, f.h, "/api/v1/endpoints"), &list)
	if len(list) != 3 {
		t.Fatalf("endpoints: %v", list)
	}
	if list[2]["kind"] != "vendor_action" || list[2]["action"] != "domains" {
		t.Errorf("vendor endpoint: %v", list[2])
	}
}

// --- vendor proxy, purge ----------------------------------------------------

func TestVendorProxy(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	rr := get(t, f.h, "/api-test/domains?provider=alphacloud")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["provider"] != "a" || resp["endpoint"] != "/domains" || resp["domain"] != "a.example" {
		t.Errorf("envelope: %v", resp)
	}
	if resp["success"] != true || resp["status"].(float64) != 200 {
		t.Errorf("result: %v", resp)
	}
	data := resp["data"].(map[string]interface{})
	if _, ok := data["data"]; !ok {
		t.Errorf("vendor body not passed through: %v", data)
	}
}

func TestVendorProxy_DefaultProvider(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	var resp map[string]interface{}
	decode(t, get(t, f.h, "/api-test/domains"), &resp)
	if resp["provider"] != "a" {
		t.Errorf("provider: got %v, want default a", resp["provider"])
	}
}

func TestVendorProxy_Errors(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	tests := []struct {
		path string
		want string
	}{
		{"/api-test/", "missing resource"},
		{"/api-test/domains?provider=nobody", "unknown provider"},
		{"/api-test/domains?provider=b", "provider api not configured"},
	}
	for _, tt := range tests {
		rr := get(t, f.h, tt.path)
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: got %d, want 400", tt.path, rr.Code)
			continue
		}
		var resp map[string]interface{}
		decode(t, rr, &resp)
		if resp["success"] != false || !strings.Contains(resp["error"].(string), tt.want) {
			t.Errorf("%s: %v", tt.path, resp)
		}
	}
}

func TestPurge(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	rr := post(t, f.h, "/purge", `{"type":"AlphaCloud","url":"https://a.example/logo.png"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d (%s)", rr.Code, rr.Body.String())
	}
	var resp map[string]interface{}
	decode(t, rr, &resp)
	if resp["ok"] != true || resp["provider"] != "a" {
		t.Errorf("response: %v", resp)
	}
	select {
	case <-f.purges:
	case <-time.After(time.Second):
		t.Error("vendor API did not receive the purge")
	}
}

func TestPurge_BadRequests(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	tests := []struct {
		body string
		code int
		want string
	}{
		{`not json`, http.StatusBadRequest, "invalid JSON body"},
		{`{"url":"https://a.example/x"}`, http.StatusBadRequest, "provider required"},
		{`{"provider":"a"}`, http.StatusBadRequest, "url required"},
		{`{"provider":"a","url":"/relative"}`, http.StatusInternalServerError, "absolute"},
		{`{"provider":"nobody","url":"https://a.example/x"}`, http.StatusInternalServerError, "unknown provider"},
	}
	for _, tt := range tests {
		rr := post(t, f.h, "/purge", tt.body)
		if rr.Code != tt.code {
			t.Errorf("%s: got %d, want %d", tt.body, rr.Code, tt.code)
			continue
		}
		if !strings.Contains(rr.Body.String(), tt.want) {
			t.Errorf("%s: body %s, want %q", tt.body, rr.Body.String(), tt.want)
		}
	}
	if rr := get(t, f.h, "/purge"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /purge: got %d, want 405", rr.Code)
	}
}

// --- alerts, diagnostics, certs ---------------------------------------------

func TestAlerts_FireForFailingProvider(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	var before []alerts.Alert
	decode(t, get(t, f.h, "/api/v1/alerts"), &before)
	if len(before) != 0 {
		t.Fatalf("alerts before run: %v", before)
	}

	runOnce(t, f)

	var list []alerts.Alert
	decode(t, get(t, f.h, "/api/v1/alerts"), &list)
	if len(list) != 1 {
		t.Fatalf("alerts: %+v", list)
	}
	if list[0].ProviderID != "b" || list[0].State != alerts.StateFiring {
		t.Errorf("alert: %+v", list[0])
	}
}

func TestDiagnostics(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	if rr := get(t, f.h, "/api/v1/diagnostics"); rr.Code != http.StatusNotFound {
		t.Fatalf("before run: got %d, want 404", rr.Code)
	}
	runOnce(t, f)

	var list []api.ProviderDiagnostics
	decode(t, get(t, f.h, "/api/v1/diagnostics"), &list)
	if len(list) != 2 {
		t.Fatalf("diagnostics: %+v", list)
	}
	if got := list[0].Hints[0].Key; got != "healthy" {
		t.Errorf("alpha first hint: got %q, want healthy", got)
	}
	if got := list[1].Hints[0]; got.Key != "issue" || got.Level != "critical" {
		t.Errorf("beta first hint: %+v", got)
	}
}

func TestCerts_PlainHTTPOriginsSkipped(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	var list []map[string]interface{}
	decode(t, get(t, f.h, "/api/v1/certs"), &list)
	if len(list) != 0 {
		t.Errorf("certs: got %v, want none for http origins", list)
	}
}

// --- /metrics ---------------------------------------------------------------

func TestMetrics(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	runOnce(t, f)

	rr := get(t, f.h, "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status: got %d", rr.Code)
	}

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(rr.Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}

	rates, ok := families["cdnprobe_provider_pass_rate"]
	if !ok {
		t.Fatal("cdnprobe_provider_pass_rate missing")
	}
	got := map[string]float64{}
	for _, m := range rates.GetMetric() {
		got[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
	}
	if got["a"] != 1 || got["b"] != 0 {
		t.Errorf("pass rates: %v", got)
	}

	issue := families["cdnprobe_provider_issue"]
	for _, m := range issue.GetMetric() {
		provider := m.GetLabel()[0].GetValue()
		want := 0.0
		if provider == "b" {
			want = 1
		}
		if m.GetGauge().GetValue() != want {
			t.Errorf("issue{%s}: got %v, want %v", provider, m.GetGauge().GetValue(), want)
		}
	}
	if mf := families["cdnprobe_ws_clients"]; mf.GetMetric()[0].GetGauge().GetValue() != 3 {
		t.Errorf("ws_clients: %v", mf)
	}
	if _, ok := families["cdnprobe_endpoint_response_ms"]; !ok {
		t.Error("cdnprobe_endpoint_response_ms missing")
	}
}

func TestMetrics_BeforeAnyRun(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	var parser expfmt.TextParser
	families, err := parser.TextToMetricFamilies(get(t, f.h, "/metrics").Body)
	if err != nil {
		t.Fatalf("parse exposition: %v", err)
	}
	if _, ok := families["cdnprobe_runs_in_flight"]; !ok {
		t.Error("cdnprobe_runs_in_flight missing")
	}
	if _, ok := families["cdnprobe_provider_pass_rate"]; ok {
		t.Error("per-provider metrics should be absent before the first run")
	}
}

// --- middleware -------------------------------------------------------------

func TestAuth_ProtectsRunsAndVendorRoutes(t *testing.T) {
	f := newFixture(t, fixtureOpts{auth: auth.APIKey("apikey", "X-API-Key", "s3cret")})

	if rr := post(t, f.h, "/api/v1/runs", `{}`); rr.Code != http.StatusUnauthorized {
		t.Errorf("POST runs without key: got %d, want 401", rr.Code)
	}
	if rr := get(t, f.h, "/api-test/domains"); rr.Code != http.StatusUnauthorized {
		t.Errorf("api-test without key: got %d, want 401", rr.Code)
	}
	if rr := get(t, f.h, "/api/v1/runs/stream?api_key=wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("stream with wrong key: got %d, want 401", rr.Code)
	}
	if rr := get(t, f.h, "/api/v1/health"); rr.Code != http.StatusOK {
		t.Errorf("health must stay public: got %d", rr.Code)
	}

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader(`{"rounds":1}`))
	req.Header.Set("X-API-Key", "s3cret")
	f.h.ServeHTTP(rr, req)
	if rr.Code != http.StatusOK {
		t.Errorf("POST runs with key: got %d (%s)", rr.Code, rr.Body.String())
	}
}

func TestCORS_Preflight(t *testing.T) {
	f := newFixture(t, fixtureOpts{})
	rr := httptest.NewRecorder()
	f.h.ServeHTTP(rr, httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil))

	if rr.Code != http.StatusNoContent {
		t.Errorf("status: got %d, want 204", rr.Code)
	}
	if got := rr.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin: got %q", got)
	}
}

func TestSetEngine_AppliesToNextRequest(t *testing.T) {
	f := newFixture(t, fixtureOpts{})

	cfg := config.Default()
	f.h.SetEngine(engine.New(cfg))

	var resp api.HealthResponse
	decode(t, get(t, f.h, "/api/v1/health"), &resp)
	if resp.ProviderCount != len(cfg.Providers) || resp.EndpointCount != len(cfg.Endpoints) {
		t.Errorf("health after swap: %+v", resp)
	}
}
