package testutil

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestDirectImportViolations(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "clean.go", "package x\n\nimport \"fmt\"\n\nvar _ = fmt.Sprint\n")
	writeFile(t, dir, "dirty.go", "package x\n\nimport _ \"pisa/internal/core\"\n")
	writeFile(t, dir, "dirty_test.go", "package x\n\nimport _ \"pisa/internal/cache\"\n")

	viols, err := directImportViolations(dir, InternalImportForbidden)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	// Test files are exempt; only dirty.go counts.
	if len(viols) != 1 {
		t.Fatalf("violations = %v, want exactly one", viols)
	}
}

func TestInternalImportForbidden(t *testing.T) {
	for path, want := range map[string]bool{
		"pisa/internal/core":  true,
		"pisa/internal":       true,
		"pisa/pkg/mapset":     false,
		"fmt":                 false,
		"other/internal/core": false,
	} {
		if got := InternalImportForbidden(path); got != want {
			t.Fatalf("InternalImportForbidden(%q) = %v, want %v", path, got, want)
		}
	}
}
