package archive_test

import (
	archivetar "archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawn-hurley/ci/pkg/svc/archive"
)

// writeTar creates a tar archive containing the given files.
func writeTar(t *testing.T, files map[string]string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "image.tar")

	file, err := os.Create(path)
	require.NoError(t, err)

	defer func() { require.NoError(t, file.Close()) }()

	writer := archivetar.NewWriter(file)

	for name, content := range files {
		err = writer.WriteHeader(&archivetar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		})
		require.NoError(t, err)

		_, err = writer.Write([]byte(content))
		require.NoError(t, err)
	}

	require.NoError(t, writer.Close())

	return path
}

func TestExtractImageRefFromManifestRepoTags(t *testing.T) {
	t.Parallel()

	path := writeTar(t, map[string]string{
		"manifest.json": `[{"Config":"abc.json","RepoTags":["quay.io/konveyor/tackle2-hub:latest"],"Layers":["aaa/layer.tar"]}]`,
	})

	ref, err := archive.ExtractImageRef(path)

	require.NoError(t, err)
	assert.Equal(t, "quay.io/konveyor/tackle2-hub:latest", ref)
}

func TestExtractImageRefFromRawManifestText(t *testing.T) {
	t.Parallel()

	// Manifest is not the expected JSON shape, but still carries a tag-shaped
	// reference in its raw text.
	path := writeTar(t, map[string]string{
		"manifest.json": `{"image": "quay.io/konveyor/kantra:pr-42", "schema": 2}`,
	})

	ref, err := archive.ExtractImageRef(path)

	require.NoError(t, err)
	assert.Equal(t, "quay.io/konveyor/kantra:pr-42", ref)
}

func TestExtractImageRefFromOCIIndexAnnotation(t *testing.T) {
	t.Parallel()

	path := writeTar(t, map[string]string{
		"index.json": `{
			"schemaVersion": 2,
			"manifests": [{
				"mediaType": "application/vnd.oci.image.manifest.v1+json",
				"digest": "sha256:0000000000000000000000000000000000000000000000000000000000000000",
				"size": 1,
				"annotations": {
					"org.opencontainers.image.ref.name": "quay.io/konveyor/java-external-provider:v2"
				}
			}]
		}`,
	})

	ref, err := archive.ExtractImageRef(path)

	require.NoError(t, err)
	assert.Equal(t, "quay.io/konveyor/java-external-provider:v2", ref)
}

func TestExtractImageRefPrefersManifestOverIndex(t *testing.T) {
	t.Parallel()

	path := writeTar(t, map[string]string{
		"manifest.json": `[{"RepoTags":["quay.io/konveyor/tackle2-hub:latest"]}]`,
		"index.json":    `{"schemaVersion":2,"manifests":[{"annotations":{"org.opencontainers.image.ref.name":"quay.io/other/image:v1"},"digest":"sha256:0000000000000000000000000000000000000000000000000000000000000000","size":1}]}`,
	})

	ref, err := archive.ExtractImageRef(path)

	require.NoError(t, err)
	assert.Equal(t, "quay.io/konveyor/tackle2-hub:latest", ref)
}

func TestExtractImageRefFallsBackPastEmptyRepoTags(t *testing.T) {
	t.Parallel()

	// RepoTags is empty and layer digests are not tag-shaped references, so
	// extraction falls through to the OCI index annotation.
	path := writeTar(t, map[string]string{
		"manifest.json": `[{"Config":"blobs/sha256:abc","RepoTags":[],"Layers":["blobs/sha256:def"]}]`,
		"index.json":    `{"schemaVersion":2,"manifests":[{"annotations":{"org.opencontainers.image.ref.name":"quay.io/konveyor/kantra:nightly"},"digest":"sha256:0000000000000000000000000000000000000000000000000000000000000000","size":1}]}`,
	})

	ref, err := archive.ExtractImageRef(path)

	require.NoError(t, err)
	assert.Equal(t, "quay.io/konveyor/kantra:nightly", ref)
}

func TestExtractImageRefNoMetadata(t *testing.T) {
	t.Parallel()

	path := writeTar(t, map[string]string{
		"layer.tar": "opaque bytes",
	})

	_, err := archive.ExtractImageRef(path)

	require.ErrorIs(t, err, archive.ErrNoImageRef)
}

func TestExtractImageRefMissingFile(t *testing.T) {
	t.Parallel()

	_, err := archive.ExtractImageRef(filepath.Join(t.TempDir(), "nope.tar"))

	require.Error(t, err)
}
