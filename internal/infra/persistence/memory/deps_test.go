package memory

import (
	"strings"
	"testing"

	"taskengine/testutil"
)

func moduleImportOtherThanDomain(path string) bool {
	return strings.HasPrefix(path, "taskengine/") && path != "taskengine/pkg/domain"
}

func TestStoreDependsOnlyOnDomain(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", moduleImportOtherThanDomain, "the store must not reach query, core or adapters")
	testutil.AssertNoTransitiveDependency(t, "taskengine/internal/infra/persistence/memory", testutil.DriverImportForbidden, "durability belongs to persisters")
}
