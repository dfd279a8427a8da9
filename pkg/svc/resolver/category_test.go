package resolver_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/shawn-hurley/ci/pkg/svc/resolver"
)

func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		archivePath string
		wantKeys    []string
	}{
		{
			name:        "hub archive",
			archivePath: "/tmp/dl/quay.io_konveyor_tackle2-hub--pr-9.tar",
			wantKeys:    []string{"HUB_IMAGE"},
		},
		{
			name:        "analyzer addon archive",
			archivePath: "/tmp/dl/quay.io_konveyor_tackle2-addon-analyzer--pr-9.tar",
			wantKeys:    []string{"ANALYZER_ADDON_IMAGE"},
		},
		{
			name:        "discovery addon archive",
			archivePath: "/tmp/dl/quay.io_konveyor_tackle2-addon-discovery--nightly.tar",
			wantKeys:    []string{"DISCOVERY_ADDON_IMAGE"},
		},
		{
			name:        "platform addon archive",
			archivePath: "/tmp/dl/quay.io_konveyor_tackle2-addon-platform--nightly.tar",
			wantKeys:    []string{"PLATFORM_ADDON_IMAGE"},
		},
		{
			name:        "java provider archive",
			archivePath: "/tmp/dl/quay.io_konveyor_java-external-provider--v1.tar",
			wantKeys:    []string{"JAVA_PROVIDER_IMAGE"},
		},
		{
			name:        "dotnet provider archive",
			archivePath: "/tmp/dl/quay.io_konveyor_dotnet-external-provider--v1.tar",
			wantKeys:    []string{"CSHARP_PROVIDER_IMAGE"},
		},
		{
			name:        "csharp spelling matches the same category",
			archivePath: "/tmp/dl/quay.io_konveyor_csharp-external-provider--v1.tar",
			wantKeys:    []string{"CSHARP_PROVIDER_IMAGE"},
		},
		{
			name:        "generic provider archive",
			archivePath: "/tmp/dl/quay.io_konveyor_generic-external-provider--v1.tar",
			wantKeys:    []string{"GENERIC_PROVIDER_IMAGE"},
		},
		{
			name:        "kantra archive",
			archivePath: "/tmp/dl/quay.io_konveyor_kantra--latest.tar",
			wantKeys:    []string{"KANTRA_IMAGE"},
		},
		{
			name:        "case-insensitive match",
			archivePath: "/tmp/dl/QUAY.IO_KONVEYOR_TACKLE2-HUB--PR-9.TAR",
			wantKeys:    []string{"HUB_IMAGE"},
		},
		{
			name:        "unrelated archive matches nothing",
			archivePath: "/tmp/dl/quay.io_other_something--v1.tar",
			wantKeys:    nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tc.wantKeys, resolver.Classify(tc.archivePath))
		})
	}
}

func TestClassifyIsNonExclusive(t *testing.T) {
	t.Parallel()

	// A path matching two category patterns exports two variables.
	keys := resolver.Classify("/tmp/dl/kantra-with-java-external-provider.tar")

	assert.ElementsMatch(t, []string{"JAVA_PROVIDER_IMAGE", "KANTRA_IMAGE"}, keys)
}

func TestCategoryEnvKeys(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "HUB_IMAGE", resolver.CategoryHub.EnvKey())
	assert.Equal(t, "KANTRA_IMAGE", resolver.CategoryKantraRunner.EnvKey())
	assert.Equal(t, "hub", resolver.CategoryHub.String())
	assert.Equal(t, "kantra-runner", resolver.CategoryKantraRunner.String())
}
