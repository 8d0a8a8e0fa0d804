// Package api defines the wire types for the bot's admin HTTP API.
//
// This package contains the request and response structures exchanged on
// the administrative surface of the reply pipeline.
//
// # API Overview
//
// The admin API exposes:
//   - Full reply pipeline invocation with per-attempt traces
//   - Dry-run quality assessment of caller-supplied candidates
//   - Manual organic scheduler triggering for a single channel
//   - Health, readiness and version probes
//
// # Authentication
//
// Pipeline endpoints require authentication via the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// Health and readiness probes are unauthenticated.
//
// # Base URL
//
// The default base URL for the API is:
//
//	http://localhost:8080
//
// # Endpoints
//
//	POST /api/v1/reply            run the full pipeline for a channel/persona
//	POST /api/v1/assess           assess a supplied candidate without dispatching
//	POST /api/v1/organic/trigger  force one organic evaluation of a channel
//	GET  /health                  liveness probe
//	GET  /ready                   readiness probe (store and gateway checks)
//	GET  /version                 build metadata
package api
