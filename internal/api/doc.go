// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz and /readyz for Kubernetes probes; readyz pings the record store.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/author-profile runs one capture through the dispatcher.
//   - GET /v1/records lists retained records.
//   - POST /v1/exports builds a workbook and GET /v1/exports/{handle} downloads it.
package api
