package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "researchd.db")
}

func TempOutputDir(t *testing.T) string {
	t.Helper()
	return t.TempDir()
}

func WriteOutputFile(t *testing.T, dir string, relPath string, content string) {
	t.Helper()
	fullPath := filepath.Join(dir, relPath)
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", filepath.Dir(fullPath), err)
	}
	if err := os.WriteFile(fullPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", relPath, err)
	}
}
