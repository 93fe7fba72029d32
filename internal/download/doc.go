// Package download fetches session media into per-session storage.
//
// The Dispatcher runs a FIFO of pending sessions with a bounded number of
// concurrent fetches. Each fetch resolves its reference through the first
// matching Source (shared-folder helper, HTTP stream, local file), captures
// the dispatcher's cancellation generation, and re-checks it before every
// progress write, file finalize and hand-off so CancelAll leaves no stale
// writes behind. Completed sessions are handed to the analysis queue; failed
// downloads are recorded and never retried automatically.
package download
