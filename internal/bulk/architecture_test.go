package bulk_test

import (
	"testing"

	"taskengine/testutil"
)

func TestNoStorageAdapterDependencies(t *testing.T) {
	testutil.AssertNoTransitiveDependency(t, "taskengine/internal/bulk", testutil.InfraImportForbidden, "bulk works on snapshots and the Mutator interface only")
	testutil.AssertNoTransitiveDependency(t, "taskengine/internal/bulk", testutil.DriverImportForbidden, "bulk must not reach a database or cloud SDK")
}
