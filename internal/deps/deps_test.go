package deps

import (
	"os"
	"path/filepath"
	"testing"

	"sessionqa/internal/config"
	"sessionqa/internal/testsupport"
)

func writeStub(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	return path
}

func TestCheckBinaries(t *testing.T) {
	dir := t.TempDir()
	present := writeStub(t, dir, "present")
	script := writeStub(t, dir, "analyze.py")
	reqs := []Requirement{
		{Name: "Present", Command: present},
		{Name: "Missing", Command: "clearly-not-present-binary"},
		{Name: "With script", Command: present, Script: script},
		{Name: "Missing script", Command: present, Script: filepath.Join(dir, "gone.py")},
		{Name: "Unset"},
	}

	results := CheckBinaries(reqs)
	if len(results) != len(reqs) {
		t.Fatalf("expected %d results, got %d", len(reqs), len(results))
	}
	want := []bool{true, false, true, false, false}
	for i, ok := range want {
		if results[i].Available != ok {
			t.Fatalf("%s: expected available=%v, got %#v", reqs[i].Name, ok, results[i])
		}
		if !ok && results[i].Detail == "" {
			t.Fatalf("%s: expected a detail message", reqs[i].Name)
		}
	}
	if results[1].Command != "clearly-not-present-binary" {
		t.Fatalf("unexpected command recorded: %s", results[1].Command)
	}
}

func TestRequirementsFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Analysis.Command = "python3"
	cfg.Analysis.ExtraArgs = []string{"rag_video_analysis.py", "--quiet"}
	cfg.Download.FolderHelper = []string{"python3", "drive_download.py"}

	reqs := Requirements(&cfg)
	if len(reqs) != 2 {
		t.Fatalf("expected analyzer and helper, got %d", len(reqs))
	}
	if reqs[0].Script != "rag_video_analysis.py" || reqs[0].Optional {
		t.Fatalf("unexpected analyzer requirement %#v", reqs[0])
	}
	if reqs[1].Script != "drive_download.py" || !reqs[1].Optional {
		t.Fatalf("unexpected helper requirement %#v", reqs[1])
	}

	cfg.Download.FolderHelper = nil
	cfg.Analysis.ExtraArgs = []string{"--flag"}
	reqs = Requirements(&cfg)
	if len(reqs) != 1 || reqs[0].Script != "" {
		t.Fatalf("unexpected requirements %#v", reqs)
	}
}

func TestReady(t *testing.T) {
	if !Ready([]Status{{Available: true}, {Optional: true}}) {
		t.Fatal("missing optional dependency should not block readiness")
	}
	if Ready([]Status{{Available: false}}) {
		t.Fatal("missing required dependency should block readiness")
	}
}

func TestRequirementsResolveThroughPath(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries("sq-stub-analyzer", "sq-stub-helper"))
	cfg.Analysis.Command = "sq-stub-analyzer"
	cfg.Analysis.ExtraArgs = nil
	cfg.Download.FolderHelper = []string{"sq-stub-helper"}

	statuses := CheckBinaries(Requirements(cfg))
	if len(statuses) != 2 {
		t.Fatalf("expected two statuses, got %#v", statuses)
	}
	for _, status := range statuses {
		if !status.Available {
			t.Fatalf("%s not found on PATH: %s", status.Name, status.Detail)
		}
	}
	if !Ready(statuses) {
		t.Fatal("expected stubbed dependencies to be ready")
	}
}
