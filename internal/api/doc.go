// Package api exposes the read-only telemetry surface and the Scrape/
// ScrapeBatch operations over HTTP. Routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/scrape and /v1/scrape/batch to run the Escalation Runner.
//   - GET /v1/circuits, /v1/strategy-stats, /v1/cost, /v1/logs,
//     /v1/evidence for telemetry consumed by operators and the CLI.
package api
