// Package api hosts the HTTP server, middleware, and REST handlers. Notable
// routes:
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
//   - POST /api/fetch-case-data runs one case-status scrape.
//   - GET /api/case-orders?link= reads one case's orders page.
//   - GET /api/case-types and /api/captcha read the search form.
//   - GET /api/query-history lists recent query log rows.
package api
