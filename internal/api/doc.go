// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/watchlist for watchlist CRUD, per-target job history and last job.
//   - GET /v1/jobs/{job_id} for a single collection job.
//   - DELETE /v1/politeness/{domain} to drop a cached robots decision.
package api
