// Package session defines the tutoring-session record that flows through the
// download and analysis pipelines.
//
// A Session carries two independent lifecycles: DownloadStatus, owned by the
// download dispatcher, and AnalysisStatus, owned by the analysis queue
// manager. The helpers here keep the transient-state rules and failure
// reasons in one place so recovery, the managers, and the operator surfaces
// agree on what "in progress" means.
package session
