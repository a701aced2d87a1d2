// Package api exposes a running modhub over HTTP.
//
// The control API is a small JSON surface over a pipeline:
//
//	GET  /healthz                      liveness plus catalog size
//	GET  /api/v1/sources               configured sources and their coherency witnesses
//	GET  /api/v1/plugins[?enabled=1]   catalog records in precedence order
//	GET  /api/v1/plugins/{id}          one record
//	POST /api/v1/plugins/{id}/enable   enable a record, disabling its group siblings
//	POST /api/v1/plugins/{id}/disable  disable a record
//	POST /api/v1/refresh[?force=1]     resynchronize every enabled source
//
// Routing uses gorilla/mux. Every request gets an X-Request-ID, is logged at
// debug level and is protected against handler panics.
package api
