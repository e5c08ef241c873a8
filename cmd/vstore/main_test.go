package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage/parquet"
)

type cli struct {
	t    *testing.T
	base []string
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	return &cli{t: t, base: []string{"-backend", "file", "-path", filepath.Join(dir, "data"), "-log-level", "error"}}
}

func (c *cli) run(args ...string) (string, int) {
	c.t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append(append([]string(nil), c.base...), args...), &stdout, &stderr)
	if code != errors.CodeOK {
		c.t.Logf("vstore %s: %s", strings.Join(args, " "), stderr.String())
	}
	return stdout.String(), code
}

func (c *cli) mustRun(args ...string) string {
	c.t.Helper()
	out, code := c.run(args...)
	if code != errors.CodeOK {
		c.t.Fatalf("vstore %s: exit code %d", strings.Join(args, " "), code)
	}
	return out
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestSaveLoadListDelete(t *testing.T) {
	c := newCLI(t)
	doc := writeFile(t, "doc.json", `{"title":"hello"}`)

	id := strings.TrimSpace(c.mustRun("save", "-id", "v1", "-tag", "first", doc))
	if id != "v1" {
		t.Fatalf("expected id v1, got %q", id)
	}
	generated := strings.TrimSpace(c.mustRun("save", "-branch", "draft", "-major", doc))
	if generated == "" || generated == "v1" {
		t.Fatalf("expected a generated id, got %q", generated)
	}

	if out := c.mustRun("load", "v1"); out != `{"title":"hello"}` {
		t.Errorf("unexpected content %q", out)
	}

	list := c.mustRun("list")
	for _, want := range []string{"v1", generated, "draft", "first", "major"} {
		if !strings.Contains(list, want) {
			t.Errorf("list output missing %q:\n%s", want, list)
		}
	}
	if out := c.mustRun("list", "-branch", "draft"); strings.Contains(out, "v1") {
		t.Errorf("branch filter leaked v1:\n%s", out)
	}

	c.mustRun("delete", "v1")
	if _, code := c.run("load", "v1"); code != errors.CodeNotFound {
		t.Errorf("expected not found exit code, got %d", code)
	}
}

func TestDeltaSave(t *testing.T) {
	c := newCLI(t)
	base := writeFile(t, "base.json", `{"a":1}`)
	delta := writeFile(t, "delta.json", `{"baseVersionId":"base","operations":[{"op":"replace","path":"/a","value":2}]}`)

	c.mustRun("save", "-id", "base", base)
	c.mustRun("save", "-id", "edit", "-delta", delta)

	out := c.mustRun("load", "edit")
	if !strings.Contains(out, `"baseVersionId": "base"`) {
		t.Errorf("expected delta JSON, got %s", out)
	}

	bad := writeFile(t, "bad.json", `not json`)
	if _, code := c.run("save", "-delta", bad); code != errors.CodeIntegrity {
		t.Errorf("expected integrity exit code, got %d", code)
	}
}

func TestTagsAndBranches(t *testing.T) {
	c := newCLI(t)
	doc := writeFile(t, "doc.txt", "content")

	c.mustRun("save", "-id", "a", doc)
	c.mustRun("save", "-id", "b", "-branch", "feature", doc)
	c.mustRun("tag", "a", "stable")

	if out := c.mustRun("list"); !strings.Contains(out, "stable") {
		t.Errorf("tag not listed:\n%s", out)
	}
	branches := c.mustRun("branches")
	if !strings.Contains(branches, "feature") || !strings.Contains(branches, "main") {
		t.Errorf("unexpected branches:\n%s", branches)
	}

	c.mustRun("untag", "stable")
	if _, code := c.run("untag", "stable"); code != errors.CodeNotFound {
		t.Errorf("expected not found exit code, got %d", code)
	}
}

func TestMaintenanceCommands(t *testing.T) {
	c := newCLI(t)
	doc := writeFile(t, "doc.txt", strings.Repeat("versioned content ", 200))
	c.mustRun("save", "-id", "a", doc)
	c.mustRun("save", "-id", "b", doc)

	if out := c.mustRun("metrics"); !strings.Contains(out, "Versions:     2") {
		t.Errorf("unexpected metrics:\n%s", out)
	}
	if out := c.mustRun("cleanup", "-dry-run"); !strings.Contains(out, "would remove 0 versions") {
		t.Errorf("unexpected dry run:\n%s", out)
	}
	if out := c.mustRun("cleanup"); !strings.Contains(out, "removed 0 versions") {
		t.Errorf("unexpected cleanup:\n%s", out)
	}
	if out := c.mustRun("optimize"); !strings.Contains(out, "examined 0") {
		t.Errorf("unexpected optimize:\n%s", out)
	}
	if out := c.mustRun("usage"); !strings.Contains(out, "bytes") {
		t.Errorf("unexpected usage:\n%s", out)
	}

	catalog := filepath.Join(t.TempDir(), "catalog.parquet")
	c.mustRun("export", catalog)
	data, err := os.ReadFile(catalog)
	if err != nil {
		t.Fatal(err)
	}
	rows, err := parquet.ReadCatalog(data)
	if err != nil {
		t.Fatalf("ReadCatalog: %v", err)
	}
	if len(rows) != 2 {
		t.Errorf("expected 2 catalog rows, got %d", len(rows))
	}

	c.mustRun("clear", "-force")
	if out := c.mustRun("usage"); !strings.HasPrefix(out, "0B") {
		t.Errorf("expected empty namespace after clear, got %q", out)
	}
}

func TestUsageErrors(t *testing.T) {
	c := newCLI(t)

	tests := []struct {
		name string
		args []string
		code int
	}{
		{"unknown command", []string{"frobnicate"}, errors.CodeUsage},
		{"missing argument", []string{"load"}, errors.CodeUsage},
		{"bad flag", []string{"list", "-nope"}, errors.CodeUsage},
		{"missing file", []string{"save", "/does/not/exist"}, errors.CodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, code := c.run(tt.args...); code != tt.code {
				t.Errorf("expected exit code %d, got %d", tt.code, code)
			}
		})
	}

	var stderr bytes.Buffer
	if code := run([]string{"-backend", "nosuch", "list"}, &bytes.Buffer{}, &stderr); code != errors.CodeConfig {
		t.Errorf("expected config exit code for bad backend, got %d", code)
	}
}
