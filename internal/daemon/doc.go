// Package daemon coordinates the long-running sessionqa process.
//
// It wires the session collection, the download dispatcher, the analysis
// manager and the notification publishers into a single lifecycle with
// flock-based locking to prevent multiple instances. Startup runs state
// recovery before any new ingestion is accepted. The daemon owns the operator
// actions (ingest, retry, administrative reset, test notification), the
// periodic queue snapshot broadcast and the HTTP API.
//
// Keep orchestration here: fetch and analysis behavior live in their own
// packages while the daemon focuses on startup, shutdown and the operator
// surface.
package daemon
