// Package recovery repairs sessions left in transient states by an abnormal
// shutdown. It runs once at daemon startup, before ingestion resumes: queued
// or in-flight downloads are requeued through the download dispatcher, and
// analysis states are returned to pending so the next hand-off can queue
// them again.
package recovery
