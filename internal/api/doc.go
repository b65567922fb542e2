// Package api hosts the HTTP control plane of the importer. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - /v1/items for queue management and /v1/run for run control.
//     Operations the run state machine rejects answer 409 Conflict.
//   - GET /v1/runs and /v1/runs/{run_id} for run history via the
//     history.Repository interface.
package api
