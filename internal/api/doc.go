// Package api defines wire-format types and converters shared by the IPC and
// HTTP surfaces. It translates sessions and manager statistics into
// transport-friendly DTOs so clients never couple to internal types.
//
// DTOs use camelCase JSON tags. Enums are exposed as their lowercase string
// values and timestamps use RFC3339 with milliseconds. Nullable fields (queue
// position, score, artifact paths) are omitted rather than sent as zero values.
package api
