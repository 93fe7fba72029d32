// Command sessionqa is the operator CLI for the session quality pipeline.
//
// It runs the daemon in the foreground, talks to a running daemon over the
// JSON-RPC Unix socket for ingestion, retries, status and resets, and offers
// local configuration and health utilities that work without a daemon.
package main
