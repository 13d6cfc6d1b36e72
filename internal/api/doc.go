// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/search, /v1/search/domain and /v1/stats for queries.
//   - POST /v1/queue for manual URL admission.
package api
