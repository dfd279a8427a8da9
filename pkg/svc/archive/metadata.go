// Package archive extracts image references from container image tar
// archives without loading them into a runtime.
//
// Archives produced by `docker save`/`podman save` carry a manifest.json with
// a RepoTags field; OCI-layout archives carry an index.json whose manifests
// are annotated with the source reference. Both formats are handled, with a
// best-effort raw-text scan in between for archives whose manifest is present
// but not in the expected shape.
package archive

import (
	"archive/tar"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"github.com/google/go-containerregistry/pkg/name"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

// ErrNoImageRef is returned when no image reference can be extracted from an
// archive by any method.
var ErrNoImageRef = errors.New("no image reference found in archive")

// manifestEntry mirrors one entry of a docker-save manifest.json.
type manifestEntry struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags"`
	Layers   []string `json:"Layers"`
}

// refPattern matches a repo:tag shaped string inside raw manifest text, e.g.
// "quay.io/konveyor/tackle2-hub:latest". Used only when structured parsing
// fails.
var refPattern = regexp.MustCompile(`[a-zA-Z0-9][a-zA-Z0-9._/-]*/[a-zA-Z0-9._-]+:[a-zA-Z0-9._-]+`)

// ExtractImageRef returns the repository:tag reference an archive's image was
// saved under. It tries progressively less precise sources:
//
//  1. manifest.json RepoTags (docker/podman save format)
//  2. a repo:tag shaped string anywhere in the raw manifest text
//  3. index.json's org.opencontainers.image.ref.name annotation (OCI layout)
//
// Returns ErrNoImageRef when every method comes up empty.
func ExtractImageRef(archivePath string) (string, error) {
	manifestData, indexData, err := readMetadataFiles(archivePath)
	if err != nil {
		return "", err
	}

	if ref := refFromManifest(manifestData); ref != "" {
		return ref, nil
	}

	if ref := refFromRawText(manifestData); ref != "" {
		return ref, nil
	}

	if ref := refFromOCIIndex(indexData); ref != "" {
		return ref, nil
	}

	return "", fmt.Errorf("%w: %s", ErrNoImageRef, archivePath)
}

// readMetadataFiles scans the tar archive once and returns the contents of
// manifest.json and index.json, either of which may be nil.
func readMetadataFiles(archivePath string) (manifestData, indexData []byte, err error) {
	file, err := os.Open(archivePath) //nolint:gosec // Path is from internal code
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}

	defer func() { _ = file.Close() }()

	tarReader := tar.NewReader(file)

	for {
		header, readErr := tarReader.Next()
		if errors.Is(readErr, io.EOF) {
			break
		}

		if readErr != nil {
			return nil, nil, fmt.Errorf("failed to read archive: %w", readErr)
		}

		switch header.Name {
		case "manifest.json", "./manifest.json":
			manifestData, readErr = io.ReadAll(tarReader)
		case "index.json", "./index.json":
			indexData, readErr = io.ReadAll(tarReader)
		default:
			continue
		}

		if readErr != nil {
			return nil, nil, fmt.Errorf("failed to read %s: %w", header.Name, readErr)
		}

		if manifestData != nil && indexData != nil {
			break
		}
	}

	return manifestData, indexData, nil
}

// refFromManifest parses a docker-save manifest.json and returns the first
// valid RepoTags entry.
func refFromManifest(manifestData []byte) string {
	if manifestData == nil {
		return ""
	}

	var entries []manifestEntry

	err := json.Unmarshal(manifestData, &entries)
	if err != nil {
		return ""
	}

	for _, entry := range entries {
		for _, repoTag := range entry.RepoTags {
			if validRef(repoTag) {
				return repoTag
			}
		}
	}

	return ""
}

// refFromRawText scans raw manifest text for a repo:tag shaped string.
func refFromRawText(manifestData []byte) string {
	if manifestData == nil {
		return ""
	}

	for _, candidate := range refPattern.FindAllString(string(manifestData), -1) {
		// Layer paths like "blobs/sha256:abc..." match the shape; a real
		// reference never carries a sha256 tag component.
		if strings.Contains(candidate, "sha256:") {
			continue
		}

		if validRef(candidate) {
			return candidate
		}
	}

	return ""
}

// refFromOCIIndex parses an OCI-layout index.json and returns the first
// manifest's ref-name annotation.
func refFromOCIIndex(indexData []byte) string {
	if indexData == nil {
		return ""
	}

	var index ocispec.Index

	err := json.Unmarshal(indexData, &index)
	if err != nil {
		return ""
	}

	for _, manifest := range index.Manifests {
		ref := manifest.Annotations[ocispec.AnnotationRefName]
		if ref != "" && validRef(ref) {
			return ref
		}
	}

	return ""
}

// validRef reports whether a string parses as a tagged image reference.
func validRef(ref string) bool {
	_, err := name.NewTag(ref, name.WeakValidation)

	return err == nil
}
