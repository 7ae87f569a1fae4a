// Package api hosts the HTTP server, middleware, and REST handlers for
// operator access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/discovery for club event discovery.
//   - POST /v1/imports/plan and /v1/imports/apply for the import workflow.
//   - GET /v1/jobs and /v1/jobs/{job_id} for progress reporting.
package api
