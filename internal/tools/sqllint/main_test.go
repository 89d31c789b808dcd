package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLintFileFlagsMissingMarker(t *testing.T) {
	dir := t.TempDir()
	path := writeSource(t, dir, "q.go", "package q\n\nconst QBad = `SELECT 1`\n\nconst QGood = `--sql 0b6c2f6e-4a7d-4f2a-9d8e-1c3b5a7e9f01\nSELECT 1`\n")

	vs, err := lintFile(path, map[string]string{})
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(vs) != 1 || vs[0].name != "QBad" {
		t.Fatalf("violations = %+v, want one for QBad", vs)
	}
}

func TestLintFileFlagsDuplicateMarkersAcrossFiles(t *testing.T) {
	dir := t.TempDir()
	const marker = "--sql 7f1e0c44-2b9a-4c61-8d0f-5e6a7b8c9d10"
	first := writeSource(t, dir, "a.go", "package q\n\nconst QA = `"+marker+"\nSELECT 1`\n")
	second := writeSource(t, dir, "b.go", "package q\n\nconst QB = `"+marker+"\nDELETE FROM t`\n")

	seen := map[string]string{}
	vs, err := lintFile(first, seen)
	if err != nil || len(vs) != 0 {
		t.Fatalf("first file: vs=%+v err=%v", vs, err)
	}
	vs, err = lintFile(second, seen)
	if err != nil {
		t.Fatalf("lintFile: %v", err)
	}
	if len(vs) != 1 || !strings.Contains(vs[0].message, "a.go:3") {
		t.Fatalf("violations = %+v, want duplicate pointing at a.go:3", vs)
	}
}
