// Package score turns the outcomes of a run into per-provider pass counts,
// an issue list and a status matrix.
//
// Everything here is a pure function of its inputs. The latest outcome for a
// (provider, endpoint) pair wins; API outcomes are expanded into one entry per
// nested provider result before scoring. An endpoint contributes to a
// provider's total only once it has a recorded outcome for that provider, so
// API endpoints that were never exercised are not counted as failures.
//
// States: Healthy when the pass rate meets the threshold, Critical below it,
// Unknown when nothing has been recorded.
package score
