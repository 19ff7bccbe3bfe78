// Package server is the HTTP proxy between signed-in clients and the model
// provider.
//
// Every /api request passes the same stack: a request ID, request logging
// and metrics, panic recovery, CORS, the per-IP limit and the body limit.
// /api/validate and /api/generate then authenticate the caller against the
// Google userinfo endpoint, and /api/generate is additionally counted
// against the per-user limit and the shared daily cost budget.
//
// Generation answers either with a single JSON document or, when the client
// asks for text/event-stream, with "data: <json>" records flushed as the
// provider produces them.
//
// The package also carries the probe endpoints (/healthz, /readyz) and the
// dedicated Prometheus metrics server.
package server
