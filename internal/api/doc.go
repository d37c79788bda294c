// Package api hosts the HTTP server, middleware, and REST handlers for load
// producers and consumers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/loads and PUT/DELETE /v1/loads/{load_id} for producers.
//   - GET /v1/loads, /v1/loads/{load_id} and /v1/active for queries.
//   - GET /v1/history and /v1/loads/{load_id}/history for the change audit
//     trail via the HistoryRepository interface.
package api
