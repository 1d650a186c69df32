// Package api implements the HTTP REST API and run streams of the dashboard
// server.
//
// New(engine, deps) returns a Handler that serves:
//
//	GET  /health                     plain-text liveness ("ok")
//	GET  /api/v1/health              catalog size, api accounts, runs in flight, last run
//	POST /api/v1/runs                run to completion; returns the report
//	GET  /api/v1/runs/stream         run while streaming events as SSE
//	GET  /api/v1/runs/last           last report with summary and matrix; 404 if none
//	GET  /api/v1/runs/history        persisted run summaries, newest first
//	GET  /api/v1/runs/history/{id}   one persisted report
//	GET  /api/v1/providers           provider catalog; ?host= detects by hostname
//	GET  /api/v1/endpoints           endpoint catalog in run order
//	GET  /api/v1/diagnostics         per-provider hints for the last report
//	GET  /api/v1/certs               origin TLS certificate status
//	GET  /api/v1/alerts              firing and recently resolved alerts
//	GET  /api-test/{action}          vendor API proxy (?provider=)
//	POST /purge                      purge one URL from a provider cache
//	GET  /metrics                    Prometheus text exposition
//
// /tests/run and /tests/run/stream are aliases of the two run routes.
//
// Stream requests take rounds, delay (seconds, fractions allowed), providers
// and endpoints (comma-separated) as query parameters. Each run event is one
// SSE frame named after the event type; an invalid request produces a single
// error frame.
//
// Every run started here is recorded in the store, evaluated by the alert
// engine and saved to history before any other publisher sees its final
// event. SetEngine swaps the engine after a config reload.
package api
