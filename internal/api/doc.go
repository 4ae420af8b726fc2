// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes and Cloud Run probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/users/{username}/items/{item_id}/content loads one article, waiting out
//     backend processing.
//   - POST /v1/users/{username}/prefetch queues a batch of items to warm in the background.
package api
