package core

import (
	"sort"
	"strings"
	"testing"

	"golang.org/x/tools/go/packages"
)

// TestContractPackagesStayEngineFree ensures the pkg/ contract packages never
// import the internal engine. Services and callers depend on pkg interfaces;
// only the engine side may know about caches, snapshots and orchestration.
func TestContractPackagesStayEngineFree(t *testing.T) {
	const contractPrefix = "pisa/pkg"
	const enginePrefix = "pisa/internal"

	cfg := &packages.Config{Mode: packages.NeedName | packages.NeedImports}
	pkgs, err := packages.Load(cfg, contractPrefix+"/...")
	if err != nil {
		t.Fatalf("load packages: %v", err)
	}

	var violations []string
	for _, pkg := range pkgs {
		for importPath := range pkg.Imports {
			if importPath == enginePrefix || strings.HasPrefix(importPath, enginePrefix+"/") {
				violations = append(violations, pkg.PkgPath+" imports "+importPath)
			}
		}
	}
	if len(violations) > 0 {
		sort.Strings(violations)
		for _, v := range violations {
			t.Errorf("forbidden engine import: %s", v)
		}
		t.Fatalf("found %d forbidden engine imports", len(violations))
	}
}
