package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cdnprobe/cdnprobe/pkg/run"
	"github.com/cdnprobe/cdnprobe/server/internal/store"
)

const (
	// sseHeartbeat is the interval of comment frames that keep proxies from
	// closing an idle stream while a long delay is pending.
	sseHeartbeat = 15 * time.Second

	// historySaveTimeout bounds one history write at the end of a run.
	historySaveTimeout = 5 * time.Second
)

// publisher returns the fan-out for one run: the recorder first, so the
// store is current before any client sees the final event.
func (h *Handler) publisher(extra ...run.Publisher) run.Publisher {
	fan := make(run.Fanout, 0, 1+len(h.deps.Publishers)+len(extra))
	fan = append(fan, run.PublisherFunc(h.record))
	fan = append(fan, h.deps.Publishers...)
	return append(fan, extra...)
}

// record keeps the store, alerts and history in step with run events.
func (h *Handler) record(ev run.Event) {
	switch ev.Type {
	case run.EventStarted:
		h.deps.Store.Begin(ev.RunID)
	case run.EventComplete, run.EventCancelled:
		h.deps.Store.Put(ev.Report)
		if h.deps.Alerts != nil {
			h.deps.Alerts.Evaluate(ev.Report)
		}
		if h.deps.History != nil {
			ctx, cancel := context.WithTimeout(context.Background(), historySaveTimeout)
			defer cancel()
			if err := h.deps.History.Save(ctx, ev.Report); err != nil {
				slog.Warn("api: save run history", "run_id", ev.RunID, "err", err)
			}
		}
	}
}

// startRun handles POST /api/v1/runs: runs to completion and returns the
// report. A client that disconnects cancels the run.
func (h *Handler) startRun(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodPost) {
		return
	}

	var req run.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonErr(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rep, err := h.Engine().Scheduler.Run(r.Context(), req, h.publisher())
	switch {
	case errors.Is(err, run.ErrConfig):
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	case run.IsCancelled(err):
		slog.Info("api: run abandoned by client", "run_id", rep.RunID, "completed", rep.Completed)
		return
	case err != nil:
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusOK, rep)
}

// streamRun handles GET /api/v1/runs/stream: runs while streaming every
// event as SSE. A configuration error is sent as a single error event. A
// client that disconnects or cannot be written to cancels the run.
func (h *Handler) streamRun(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonErr(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	setSSEHeaders(w)
	fmt.Fprint(w, "retry: 2000\n\n")
	flusher.Flush()

	sched := h.Engine().Scheduler
	req, err := parseRunQuery(r.URL.Query())
	if err == nil {
		var plan run.Plan
		if plan, err = sched.Plan(req); err == nil {
			h.stream(r.Context(), w, flusher, func(ctx context.Context, pub run.Publisher) {
				sched.Execute(ctx, plan, pub) //nolint:errcheck // outcome is delivered as events
			})
			return
		}
	}
	sendEvent(w, flusher, run.EventError, run.ErrorInfo{Error: err.Error()}) //nolint:errcheck
}

// stream runs exec in its own goroutine and relays its events until the run
// ends or the client goes away.
func (h *Handler) stream(parent context.Context, w io.Writer, flusher http.Flusher, exec func(context.Context, run.Publisher)) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	events := run.NewStream()
	defer events.Stop()

	go func() {
		defer events.Close()
		exec(ctx, h.publisher(events))
	}()

	heartbeat := time.NewTicker(sseHeartbeat)
	defer heartbeat.Stop()

	ch := events.Events()
	for {
		select {
		case <-ctx.Done():
			// Client went away; the run stops before its next probe.
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := sendEvent(w, flusher, ev.Type, ev.Payload()); err != nil {
				slog.Warn("api: sse send failed, cancelling run", "run_id", ev.RunID, "err", err)
				return
			}
		}
	}
}

// lastRun handles GET /api/v1/runs/last.
func (h *Handler) lastRun(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	e, ok := h.deps.Store.Last()
	if !ok {
		jsonErr(w, http.StatusNotFound, "no run recorded yet")
		return
	}
	jsonResp(w, http.StatusOK, LastRunResponse{
		Report:            e.Report,
		AverageDurationMs: e.Report.AverageDuration(),
		StoredAt:          e.UpdatedAt.UTC(),
	})
}

// listHistory handles GET /api/v1/runs/history?limit=N.
func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	if h.deps.History == nil {
		jsonErr(w, http.StatusNotFound, "run history not enabled")
		return
	}

	limit := h.deps.HistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			jsonErr(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		if limit <= 0 || n < limit {
			limit = n
		}
	}

	runs, err := h.deps.History.List(r.Context(), limit)
	if err != nil {
		slog.Error("api: list run history", "err", err)
		jsonErr(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if runs == nil {
		runs = []store.RunSummary{}
	}
	jsonResp(w, http.StatusOK, runs)
}

// getHistory handles GET /api/v1/runs/history/{id}.
func (h *Handler) getHistory(w http.ResponseWriter, r *http.Request) {
	if !methodIs(w, r, http.MethodGet) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/history/")
	if id == "" {
		h.listHistory(w, r)
		return
	}
	if h.deps.History == nil {
		jsonErr(w, http.StatusNotFound, "run history not enabled")
		return
	}

	rep, err := h.deps.History.Get(r.Context(), id)
	switch {
	case errors.Is(err, store.ErrNotFound):
		jsonErr(w, http.StatusNotFound, "run not found")
	case err != nil:
		slog.Error("api: get run history", "run_id", id, "err", err)
		jsonErr(w, http.StatusInternalServerError, "history unavailable")
	default:
		jsonResp(w, http.StatusOK, rep)
	}
}

// parseRunQuery reads rounds, delay (seconds), providers and endpoints from
// a stream request. Malformed numbers are configuration errors.
func parseRunQuery(q url.Values) (run.Request, error) {
	var req run.Request

	if v := strings.TrimSpace(q.Get("rounds")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, &run.ConfigError{Field: "rounds", Reason: fmt.Sprintf("not an integer: %q", v)}
		}
		req.Rounds = n
	}
	if v := strings.TrimSpace(q.Get("delay")); v != "" {
		d, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(d) || math.IsInf(d, 0) {
			return req, &run.ConfigError{Field: "delay", Reason: fmt.Sprintf("not a number: %q", v)}
		}
		req.Delay = &d
	}
	req.Providers = splitList(q.Get("providers"))
	req.Endpoints = splitList(q.Get("endpoints"))
	return req, nil
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// sendEvent writes one SSE frame with a JSON data line.
func sendEvent(w io.Writer, flusher http.Flusher, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
