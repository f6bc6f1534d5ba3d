// Package api implements the diagnostics HTTP server of the SSDS ingest
// service.
//
// This package provides:
//   - GET /api/v1/health: pipeline state and dependency checks (503 when faulted)
//   - GET /api/v1/metrics: Prometheus exposition
//   - GET /api/v1/status: JSON runtime and pipeline counters
//   - GET /api/v1/queues: broker queues via the management API
//   - GET /api/v1/packets/{sourceID}: recently archived packets
//   - Middleware stack (request ID, logging, recovery)
//
// The server is read-only and off the message path: a failing endpoint
// never affects publishing or consuming.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api
