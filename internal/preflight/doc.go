// Package preflight provides readiness checks for the filesystem paths,
// persistence backend, push service and external programs sessionqa depends
// on.
//
// The daemon runs RunAll once at startup and logs failures as warnings; the
// CLI "sessionqa health" command renders the same results as a table.
package preflight
