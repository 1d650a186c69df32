// Package ws implements the WebSocket hub for the dashboard server.
//
// Hub is a run.Publisher: every event of every run is relayed to all
// connected clients as it happens. On connect, and then every interval, the
// hub also sends the last stored report.
//
// New(store, interval) creates a Hub.
// Hub.Run(ctx) starts the snapshot ticker; it blocks until ctx is cancelled,
// then closes all active connections.
//
// Message format sent to clients:
//
//	{
//	  "event": "progress" | "round" | "started" | "complete" | "cancelled" | "snapshot",
//	  "runId": "…",
//	  "data":  { /* event payload, or the full report for complete/cancelled/snapshot */ }
//	}
//
// Query parameters: ?run=<id> relays only that run's events; ?progress=false
// drops per-probe progress events. Snapshots go to every client.
//
// The upgrader accepts all origins. The hub is mounted at /ws/stream.
package ws
