// Package auth provides authentication middleware for the dashboard server.
//
// APIKey(mode, header, key) wraps an http.Handler and validates the API key
// sent in the named request header. Browsers cannot set headers on an
// EventSource, so the key is also accepted in the api_key query parameter.
//
// When mode != "apikey" or key == "", all requests pass through (useful for
// local development with auth disabled). When the key is incorrect or absent,
// the middleware answers 401 with a JSON error body.
package auth
