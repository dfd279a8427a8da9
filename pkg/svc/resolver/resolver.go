// Package resolver ensures a required set of container images is present in
// a test runtime, downloading missing images from prior CI artifacts, loading
// them, and mapping loaded images to the environment variables downstream
// install steps consume.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shawn-hurley/ci/pkg/notify"
	"github.com/shawn-hurley/ci/pkg/svc/archive"
	"github.com/shawn-hurley/ci/pkg/svc/artifact"
	"github.com/shawn-hurley/ci/pkg/svc/runtime"
)

// Sentinel errors for the resolver package.
var (
	// ErrNoDownloads is returned when images are missing and no artifact
	// download succeeded. The remaining images are presumed permanently
	// unavailable (e.g. expired retention).
	ErrNoDownloads = errors.New("no image artifacts could be downloaded")
	// ErrStillMissing is returned when required images remain absent after
	// the download and load pass.
	ErrStillMissing = errors.New("required images still missing after retry")
)

// defaultMaxRetries bounds re-resolution after a load pass. One retry matches
// the single re-check the CI pipelines perform.
const defaultMaxRetries = 1

// ArchiveFetcher downloads archives for missing images. *artifact.Fetcher
// satisfies it.
type ArchiveFetcher interface {
	FetchMissing(
		ctx context.Context,
		missing []string,
		destDir string,
	) (artifact.Result, error)
}

// Options configures a Resolver.
type Options struct {
	// Required is the ordered requirement list. Order matters: the reference
	// tag is taken from the first listed requirement that is found.
	Required []string
	// MaxRetries bounds re-resolution passes after loading. Defaults to 1.
	MaxRetries int
	// Out receives progress messages. Defaults to os.Stdout.
	Out io.Writer
	// ExtractRef overrides archive image-name extraction; used by tests.
	ExtractRef func(archivePath string) (string, error)
}

// Resolver drives resolution to convergence: check, download missing, load,
// re-check.
type Resolver struct {
	runtime    runtime.Runtime
	fetcher    ArchiveFetcher
	required   []string
	maxRetries int
	out        io.Writer
	extractRef func(string) (string, error)
}

// Outcome is the terminal result of a resolution run.
type Outcome struct {
	// Resolution is the final (converged) check result.
	Resolution Resolution
	// Exports maps environment variable names to the image references loaded
	// during the run. Images that were already present export nothing; their
	// references are in Resolution.Found.
	Exports map[string]string
}

// New creates a resolver over a runtime and an archive fetcher.
func New(rt runtime.Runtime, fetcher ArchiveFetcher, opts Options) *Resolver {
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	extractRef := opts.ExtractRef
	if extractRef == nil {
		extractRef = archive.ExtractImageRef
	}

	return &Resolver{
		runtime:    rt,
		fetcher:    fetcher,
		required:   opts.Required,
		maxRetries: maxRetries,
		out:        out,
		extractRef: extractRef,
	}
}

// Run resolves the requirement list to convergence.
//
// Each pass checks the runtime inventory against the requirements. When
// everything is found the run terminates successfully. Otherwise missing
// images are fetched from CI artifacts and loaded, and the check repeats, up
// to MaxRetries re-checks. Fatal conditions: no successful workflow run to
// fetch from, zero successful downloads, or images still missing after the
// final re-check.
func (r *Resolver) Run(ctx context.Context) (Outcome, error) {
	outcome := Outcome{Exports: make(map[string]string)}

	for attempt := 0; ; attempt++ {
		resolution, err := r.check(ctx)
		if err != nil {
			return outcome, err
		}

		outcome.Resolution = resolution

		if resolution.Satisfied() {
			notify.Successf(r.out, "all %d required images present in %s",
				len(r.required), r.runtime.Name())

			return outcome, nil
		}

		if attempt >= r.maxRetries {
			return outcome, fmt.Errorf(
				"%w: %s",
				ErrStillMissing,
				strings.Join(resolution.Missing, ", "),
			)
		}

		err = r.downloadAndLoad(ctx, resolution, outcome.Exports)
		if err != nil {
			return outcome, err
		}
	}
}

// check queries the runtime inventory and matches it against the requirement
// list, reporting found and missing images.
func (r *Resolver) check(ctx context.Context) (Resolution, error) {
	inventory, err := r.runtime.ListImages(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("failed to query image inventory: %w", err)
	}

	resolution := Match(r.required, inventory)

	for _, requirement := range r.required {
		if ref, ok := resolution.Found[requirement]; ok {
			notify.Infof(r.out, "found %s", ref)
		} else {
			notify.Warningf(r.out, "missing %s", requirement)
		}
	}

	if resolution.ReferenceTag != "" {
		notify.Infof(r.out, "reference tag: %s", resolution.ReferenceTag)
	}

	return resolution, nil
}

// downloadAndLoad fetches artifacts for the missing images into a fresh
// temporary directory, loads every retrieved archive, and records env-var
// exports. The directory is removed unconditionally, success or failure.
func (r *Resolver) downloadAndLoad(
	ctx context.Context,
	resolution Resolution,
	exports map[string]string,
) error {
	tempDir, err := os.MkdirTemp("", "ci-images-*")
	if err != nil {
		return fmt.Errorf("failed to create download directory: %w", err)
	}

	defer func() { _ = os.RemoveAll(tempDir) }()

	notify.Activityf(r.out, "downloading %d missing image(s)", len(resolution.Missing))

	result, err := r.fetcher.FetchMissing(ctx, resolution.Missing, tempDir)
	if err != nil {
		return fmt.Errorf("artifact fetch failed: %w", err)
	}

	for image, fetchErr := range result.Failed {
		notify.Warningf(r.out, "could not fetch %s: %v", image, fetchErr)
	}

	if len(result.Archives) == 0 {
		return fmt.Errorf("%w: %d image(s) missing", ErrNoDownloads, len(resolution.Missing))
	}

	r.loadArchives(ctx, result.Archives, resolution.ReferenceTag, exports)

	return nil
}

// loadArchives loads each downloaded archive independently: a single
// archive's failure is a warning, not an abort.
func (r *Resolver) loadArchives(
	ctx context.Context,
	archives []string,
	referenceTag string,
	exports map[string]string,
) {
	for _, archivePath := range archives {
		ref, err := r.loadArchive(ctx, archivePath, referenceTag)
		if err != nil {
			notify.Warningf(r.out, "skipping %s: %v", archivePath, err)

			continue
		}

		for _, envKey := range Classify(archivePath) {
			exports[envKey] = ref
			notify.Infof(r.out, "export %s=%s", envKey, ref)
		}
	}
}

// loadArchive loads one archive into the runtime and returns its final
// addressable reference, re-tagged to the reference tag when one is known.
func (r *Resolver) loadArchive(
	ctx context.Context,
	archivePath string,
	referenceTag string,
) (string, error) {
	ref, err := r.extractRef(archivePath)
	if err != nil {
		return "", err
	}

	err = r.runtime.LoadArchive(ctx, archivePath)
	if err != nil {
		return "", err
	}

	notify.Activityf(r.out, "loaded %s into %s", ref, r.runtime.Name())

	record := runtime.ParseRecord(ref)
	if referenceTag == "" || record.Tag == referenceTag {
		return ref, nil
	}

	// Normalize to the tag convention the images already present use.
	normalized := runtime.ImageRecord{Repository: record.Repository, Tag: referenceTag}

	err = r.runtime.Tag(ctx, ref, normalized.Ref())
	if err != nil {
		return "", err
	}

	notify.Activityf(r.out, "re-tagged %s as %s", ref, normalized.Ref())

	return normalized.Ref(), nil
}
