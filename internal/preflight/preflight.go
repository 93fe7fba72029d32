package preflight

import (
	"context"

	"sessionqa/internal/config"
	"sessionqa/internal/deps"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Optional bool   `json:"optional"`
	Detail   string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// store may be nil when no backend is open yet.
func RunAll(ctx context.Context, cfg *config.Config, store Pinger) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("Sessions directory", cfg.SessionsDir()),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}
	if store != nil {
		results = append(results, CheckStore(ctx, cfg.Store.Backend, store))
	}
	if cfg.Notifications.NtfyTopic != "" {
		results = append(results, CheckNtfy(ctx, cfg.Notifications.NtfyTopic))
	}
	for _, status := range deps.CheckBinaries(deps.Requirements(cfg)) {
		results = append(results, FromDependency(status))
	}
	return results
}

// FromDependency converts a dependency status into a Result.
func FromDependency(status deps.Status) Result {
	detail := status.Detail
	if status.Available {
		detail = status.Command
	}
	return Result{Name: status.Name, Passed: status.Available, Optional: status.Optional, Detail: detail}
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.Passed && !r.Optional {
			out = append(out, r)
		}
	}
	return out
}
