package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/construction-pipeline/internal/stages"
)

const estimateCSV = "Смета №1\n" +
	"Наименование;Ед. изм.;Кол-во;Цена;Сумма\n" +
	"Бетон B25;м3;10;5 000,00;\n" +
	"Арматура A500;т;2,5;60000;150 000\n"

func setupCLIEnv(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	t.Setenv("CACHE_BACKEND", "localfs")
	t.Setenv("CACHE_PATH", filepath.Join(base, "projects"))
	t.Setenv("STORAGE_PATH", filepath.Join(base, "storage"))
	t.Setenv("PIPELINE_MANIFEST", "")
	// Nothing listens here; tests disable the stages that need a reasoning provider.
	t.Setenv("OLLAMA_URL", "http://127.0.0.1:1")
	return base
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func requireContains(t *testing.T, out, want string) {
	t.Helper()
	if !strings.Contains(out, want) {
		t.Fatalf("expected output to contain %q, got:\n%s", want, out)
	}
}

func TestRunAndShowProject(t *testing.T) {
	base := setupCLIEnv(t)
	estimate := filepath.Join(base, "estimate.csv")
	if err := os.WriteFile(estimate, []byte(estimateCSV), 0o644); err != nil {
		t.Fatalf("write estimate: %v", err)
	}

	out, _, err := runCLI(t, "run", "--project", "house-7", "--disable", "specs,plan", estimate)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	requireContains(t, out, "positions")
	requireContains(t, out, "skipped")
	requireContains(t, out, "run ")

	out, _, err = runCLI(t, "--json", "show", "house-7")
	if err != nil {
		t.Fatalf("show: %v", err)
	}
	var summary struct {
		Status     string `json:"status"`
		Aggregates []struct {
			Name  string   `json:"name"`
			Value *float64 `json:"value"`
		} `json:"aggregates"`
	}
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("decode summary: %v\n%s", err, out)
	}
	if len(summary.Aggregates) != 1 || summary.Aggregates[0].Value == nil || *summary.Aggregates[0].Value != 200000 {
		t.Fatalf("unexpected aggregates: %+v", summary.Aggregates)
	}

	out, _, err = runCLI(t, "show", "house-7")
	if err != nil {
		t.Fatalf("show table: %v", err)
	}
	requireContains(t, out, "total_amount")
	requireContains(t, out, "200000.00")
}

func TestRerunKeepsHistory(t *testing.T) {
	base := setupCLIEnv(t)
	estimate := filepath.Join(base, "estimate.csv")
	if err := os.WriteFile(estimate, []byte(estimateCSV), 0o644); err != nil {
		t.Fatalf("write estimate: %v", err)
	}
	if _, _, err := runCLI(t, "run", "-p", "house-7", "--disable", "specs,plan", estimate); err != nil {
		t.Fatalf("run: %v", err)
	}

	out, _, err := runCLI(t, "--json", "run", "-p", "house-7", "--rerun", "--disable", "specs,plan")
	if err != nil {
		t.Fatalf("rerun: %v", err)
	}
	var resp struct {
		Run struct {
			Trigger string `json:"trigger"`
		} `json:"run"`
	}
	if err := json.Unmarshal([]byte(out), &resp); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if resp.Run.Trigger != "rerun" {
		t.Fatalf("expected rerun trigger, got %q", resp.Run.Trigger)
	}
}

func TestRunRequiresProject(t *testing.T) {
	setupCLIEnv(t)
	if _, _, err := runCLI(t, "run", "estimate.csv"); err == nil {
		t.Fatalf("expected error without --project")
	}
}

func TestProvenanceUnknownProject(t *testing.T) {
	setupCLIEnv(t)
	_, _, err := runCLI(t, "provenance", "nobody", "pos:1")
	if err == nil {
		t.Fatalf("expected error for unknown project")
	}
}

func TestManifestValidate(t *testing.T) {
	base := setupCLIEnv(t)
	path := filepath.Join(base, "manifest.yaml")
	if err := os.WriteFile(path, stages.DefaultManifestYAML(), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	out, _, err := runCLI(t, "manifest", "validate", path)
	if err != nil {
		t.Fatalf("manifest validate: %v", err)
	}
	requireContains(t, out, "manifest ok: 4 modules in 3 tiers")
}

func TestManifestValidateRejectsCycle(t *testing.T) {
	base := setupCLIEnv(t)
	path := filepath.Join(base, "manifest.yaml")
	manifest := `version: 1
modules:
  - name: a
    entry: builtin.positions
    depends_on: [b]
  - name: b
    entry: builtin.plan
    depends_on: [a]
`
	if err := os.WriteFile(path, []byte(manifest), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if _, _, err := runCLI(t, "manifest", "validate", path); err == nil {
		t.Fatalf("expected cyclic manifest to be rejected")
	}
}
