// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/jobs for job submission and GET /v1/jobs/{job_id} for status.
//   - GET /v1/runs, /v1/jobs/{job_id}/runs and /v1/jobs/{job_id}/sites for
//     progress reporting via the ProgressRepository interface.
package api
