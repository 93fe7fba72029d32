// Package services defines shared utilities consumed by the download and
// analysis pipelines.
//
// Key responsibilities:
//   - Context helpers that stamp session IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper, and Reason, which turns
//     an error chain into the failure reason persisted on a session.
//
// Use these helpers when wiring new pipeline logic so failure classification
// and observability stay uniform.
package services
