// Package api hosts the HTTP server, middleware, and handlers of the scrape
// service. Notable routes:
//   - POST /scrape submits a job and returns its handle.
//   - GET /progress/{job_id} streams the job's progress as Server-Sent Events.
//   - GET /jobs/{job_id}, /jobs/{job_id}/images and POST /jobs/{job_id}/cancel.
//   - GET /runs and /runs/{job_id} for persisted run history via the
//     ProgressRepository interface.
//   - GET /healthz, /readyz and /metrics for probes and Prometheus.
package api
