package runtime

import (
	"context"
	"strings"
)

// ImageRecord is a discovered image reference, split into repository and tag.
type ImageRecord struct {
	// Repository is the registry path without tag (e.g., "quay.io/konveyor/tackle2-hub").
	Repository string
	// Tag is the portion after the last colon (e.g., "pr-123").
	Tag string
}

// Ref returns the full repository:tag reference.
func (r ImageRecord) Ref() string {
	if r.Tag == "" {
		return r.Repository
	}

	return r.Repository + ":" + r.Tag
}

// ParseRecord splits a repository:tag reference into an ImageRecord.
// The tag is the portion after the last colon, unless that colon belongs to a
// registry port (no slash after it means it is a tag).
func ParseRecord(ref string) ImageRecord {
	idx := strings.LastIndex(ref, ":")
	if idx < 0 || strings.Contains(ref[idx+1:], "/") {
		return ImageRecord{Repository: ref}
	}

	return ImageRecord{Repository: ref[:idx], Tag: ref[idx+1:]}
}

// Runtime is a container runtime that test images can be listed in, loaded
// into, and re-tagged in.
type Runtime interface {
	// Name identifies the backend for progress output.
	Name() string
	// ListImages returns every tagged image known to the runtime. An empty
	// result is valid and means no images are present.
	ListImages(ctx context.Context) ([]ImageRecord, error)
	// LoadArchive loads a tar image archive into the runtime.
	LoadArchive(ctx context.Context, archivePath string) error
	// Tag makes the image addressable under an additional reference.
	Tag(ctx context.Context, srcRef, dstRef string) error
}
