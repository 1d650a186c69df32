// Package config loads and watches the cdnprobe configuration file (config.yaml).
//
// Top-level types:
//   - Config{Providers, Endpoints, Runner, Server}: full tree parsed from YAML
//   - ProviderConfig: id, name, origin_url, hosts, aliases, api, tls
//   - APIConfig: dialect (verge|arvan|cloudflare|generic), base_url, domain,
//     domain_env, zone_id_env, rate_limit, auth
//   - AuthConfig: mode (apikey|bearer|basic|none), header, prefix, key_env,
//     token_env, username, password_env; Key(), Token() and Password() resolve
//     secrets from environment variables, never from the file
//   - EndpointConfig: id, name, category and exactly one of path or action
//   - RunnerConfig: rounds, delay, timeouts, vendor rate limit, issue
//     threshold (0.7) and security block statuses (403, 406)
//   - ServerConfig: http port, snapshot interval, CORS, auth, alerts,
//     storage and kafka settings used only by the dashboard server
//
// Load(path) reads the YAML file, applies defaults, substitutes the built-in
// providers and endpoint catalog when those lists are empty, then validates
// ids, URLs and enums. Default() returns the same configuration without a file.
//
// Config.Catalog() freezes providers and endpoints into an immutable Catalog
// with id lookup, alias normalisation and hostname detection.
//
// Watch(ctx, path, onChange) uses fsnotify on the parent directory and calls
// onChange with each successfully re-parsed Config.
package config
