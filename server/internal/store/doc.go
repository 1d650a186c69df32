// Package store holds the last run report in memory and, optionally,
// persists run summaries to SQLite for the history endpoint.
package store
