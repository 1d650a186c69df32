// Package run drives a test run: it validates a Request against the catalog,
// executes every probe in a fixed order, streams events to a Publisher and
// produces the final Report.
//
// Order: rounds run one after another. Within a round, endpoints follow
// catalog order; an HTTP endpoint is probed on every selected provider before
// the next endpoint, while a vendor action is a single probe covering all
// providers. The configured delay is waited after every probe except the
// last.
//
// Cancellation is cooperative. The context is checked before each probe and
// during the delay; a probe that has already started runs to completion on a
// context detached from cancellation and bounded only by the executor's own
// timeout. A cancelled run yields a partial report.
//
// Events reach subscribers through a Stream, an unbounded queue drained by
// its own goroutine, so a slow consumer never stalls the scheduler.
package run
