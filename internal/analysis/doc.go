// Package analysis runs the external quality analyzer against downloaded
// sessions.
//
// Manager keeps a priority queue (default priority 0, automatic retries at
// -1, FIFO within a priority) and a bounded set of active invocations. Every
// invocation is wrapped so that a crash, timeout or panic is recorded on the
// session and the loop keeps dispatching. Retry-eligible failures
// (processFailure, timeout, outputParseError) are re-queued after a capped
// exponential backoff until the retry budget is spent.
//
// ProcessAnalyzer is the production Analyzer: it runs the configured command
// in its own process group so a timeout or operator reset kills the whole
// tree. ExtractScore reads the structured JSON artifact written next to the
// report and falls back to scanning the report text.
package analysis
