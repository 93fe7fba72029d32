package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"sessionqa/internal/config"
)

// Requirement is an external program sessionqa shells out to. Script, when
// set, is a file the program is given as its first argument (for example a
// Python entry point) and must exist as well.
type Requirement struct {
	Name        string
	Command     string
	Script      string
	Description string
	Optional    bool
}

// Status reports the availability of a requirement.
type Status struct {
	Name        string
	Command     string
	Description string
	Optional    bool
	Available   bool
	Detail      string
}

// Requirements derives the analyzer and shared-folder helper checks from cfg.
// The helper is optional: without it only shared-folder links fail.
func Requirements(cfg *config.Config) []Requirement {
	if cfg == nil {
		return nil
	}
	reqs := []Requirement{{
		Name:        "Analyzer",
		Command:     cfg.Analysis.Command,
		Script:      scriptArg(cfg.Analysis.ExtraArgs),
		Description: "Scores session media and writes the quality report",
	}}
	if len(cfg.Download.FolderHelper) > 0 {
		reqs = append(reqs, Requirement{
			Name:        "Shared folder helper",
			Command:     cfg.Download.FolderHelper[0],
			Script:      scriptArg(cfg.Download.FolderHelper[1:]),
			Description: "Resolves shared-drive links into local media files",
			Optional:    true,
		})
	}
	return reqs
}

// scriptArg returns the first argument when it names a script file.
func scriptArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	first := strings.TrimSpace(args[0])
	if strings.HasPrefix(first, "-") {
		return ""
	}
	switch strings.ToLower(filepath.Ext(first)) {
	case ".py", ".sh", ".js", ".rb":
		return first
	}
	return ""
}

// CheckBinaries evaluates the provided requirements and reports availability.
func CheckBinaries(requirements []Requirement) []Status {
	results := make([]Status, 0, len(requirements))
	for _, req := range requirements {
		results = append(results, check(req))
	}
	return results
}

func check(req Requirement) Status {
	cmd := strings.TrimSpace(req.Command)
	status := Status{
		Name:        req.Name,
		Command:     cmd,
		Description: strings.TrimSpace(req.Description),
		Optional:    req.Optional,
	}
	if cmd == "" {
		status.Detail = "command not configured"
		return status
	}
	if _, err := exec.LookPath(cmd); err != nil {
		status.Detail = fmt.Sprintf("binary %q not found", cmd)
		return status
	}
	if script := strings.TrimSpace(req.Script); script != "" {
		info, err := os.Stat(script)
		if err != nil || info.IsDir() {
			status.Detail = fmt.Sprintf("script %q not found", script)
			return status
		}
	}
	status.Available = true
	return status
}

// Ready reports whether every required (non-optional) dependency is available.
func Ready(statuses []Status) bool {
	for _, s := range statuses {
		if !s.Optional && !s.Available {
			return false
		}
	}
	return true
}
