package stageapi

import (
	"testing"

	"pisa/testutil"
)

func TestStageContractsStayEngineFree(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.InternalImportForbidden,
		"stage contracts must not depend on the engine")
}
