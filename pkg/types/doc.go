// Package types defines the shared Go types used by the probe runner, the
// dashboard server and the CLI: the endpoint catalog entries, provider
// records and the per-probe outcomes that flow between them.
//
// Endpoint is a tagged variant. KindHTTP endpoints carry a request path that
// is resolved against a provider origin; KindVendorAction endpoints carry a
// logical vendor API action and always belong to CategoryAPI.
//
// Outcome JSON field names follow the dashboard's streaming contract
// (endpointId, providerId, isApiTest, ...). Status marshals the zero value
// as the string "ERROR".
package types
