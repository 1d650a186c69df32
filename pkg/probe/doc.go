// Package probe executes single probes and never fails past its boundary:
// every network error, timeout, unsupported vendor action or panic becomes a
// failed types.Outcome.
//
// Executor.HTTP fetches one endpoint from one provider origin with
// cache-bypass headers and times the request until the body is fully read.
// Security endpoints answered with a configured block status (403 and 406 by
// default) are marked BlockedBySecurity and count as a success.
//
// Executor.Vendor runs one vendor action against every selected provider and
// folds the per-provider results into a single outcome with ProviderID "api".
//
// CheckCert dials a provider origin over TLS and reports the leaf
// certificate's expiry and trust.
package probe
