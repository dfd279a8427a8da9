// Package artifact downloads container image archives from the artifacts of
// a prior successful GitHub Actions workflow run.
//
// Image build workflows upload one artifact per image, named after the image
// path with slashes replaced by underscores and the tag appended after a
// double dash (e.g. "quay.io_konveyor_tackle2-hub--pr-9"). Each artifact is a
// zip containing the saved image tar.
package artifact

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/go-github/v72/github"
)

// Sentinel errors for the artifact package.
var (
	// ErrNoWorkflowRun is returned when no successful run of the source
	// workflow can be located. There is no other source of truth for missing
	// images, so callers treat this as fatal.
	ErrNoWorkflowRun = errors.New("no successful workflow run found")
	// ErrNoMatchingArtifact is returned when a run has no artifact matching
	// an image's name pattern.
	ErrNoMatchingArtifact = errors.New("no artifact matches image pattern")
	// ErrDownloadRedirect is returned when the artifact download URL cannot
	// be resolved.
	ErrDownloadRedirect = errors.New("artifact download URL not available")
)

// manifestListSuffix matches the suffix of a multi-arch manifest-list
// artifact: a double dash followed by a date-stamped nightly tag. Arch
// specific siblings carry an "_amd64"/"_arm64" token before the double dash
// and therefore fail the base-prefix + suffix combination.
var manifestListSuffix = regexp.MustCompile(`^--\d{4}-?\d{2}-?\d{2}`)

// maxDownloadRedirects bounds redirect following when resolving the artifact
// download URL through the GitHub API.
const maxDownloadRedirects = 3

// ActionsAPI is the subset of the GitHub Actions API the fetcher uses.
// *github.ActionsService satisfies it.
type ActionsAPI interface {
	ListWorkflowRunsByFileName(
		ctx context.Context,
		owner, repo, workflowFileName string,
		opts *github.ListWorkflowRunsOptions,
	) (*github.WorkflowRuns, *github.Response, error)
	ListWorkflowRunArtifacts(
		ctx context.Context,
		owner, repo string,
		runID int64,
		opts *github.ListOptions,
	) (*github.ArtifactList, *github.Response, error)
	DownloadArtifact(
		ctx context.Context,
		owner, repo string,
		artifactID int64,
		maxRedirects int,
	) (*url.URL, *github.Response, error)
}

// Options configures a Fetcher.
type Options struct {
	// Owner and Repo identify the repository whose workflow produced the
	// image artifacts.
	Owner string
	Repo  string
	// WorkflowFile is the workflow file name (e.g. "image-build.yaml").
	WorkflowFile string
	// Branch optionally scopes the run search to a branch.
	Branch string
	// ManifestListOnly constrains artifact matching to multi-arch
	// manifest-list artifacts, excluding arch-specific siblings.
	ManifestListOnly bool
	// HTTPClient downloads artifact zips. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// Fetcher downloads image archives for missing images.
type Fetcher struct {
	actions    ActionsAPI
	httpClient *http.Client
	opts       Options
}

// NewFetcher creates a fetcher over the given Actions API.
func NewFetcher(actions ActionsAPI, opts Options) *Fetcher {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Fetcher{
		actions:    actions,
		httpClient: httpClient,
		opts:       opts,
	}
}

// Result reports the outcome of one fetch pass.
type Result struct {
	// Archives are the paths of the tar archives extracted into the
	// destination directory, one or more per successfully fetched image.
	Archives []string
	// Failed lists the images whose artifact could not be found or
	// downloaded, together with the reason.
	Failed map[string]error
}

// ArtifactPattern derives the artifact search pattern for an image: path
// separators become underscores, with a wildcard suffix for the tag portion.
func ArtifactPattern(image string) string {
	return underscored(image) + "*"
}

func underscored(image string) string {
	return strings.ReplaceAll(image, "/", "_")
}

// matchesImage reports whether an artifact name matches the pattern derived
// from an image, honoring the manifest-list constraint when configured.
func (f *Fetcher) matchesImage(artifactName, image string) bool {
	base := underscored(image)
	if !strings.HasPrefix(artifactName, base) {
		return false
	}

	if f.opts.ManifestListOnly {
		return manifestListSuffix.MatchString(artifactName[len(base):])
	}

	return true
}

// FetchMissing downloads an archive for each missing image from the most
// recent successful run of the configured workflow, extracting the contained
// tar files into destDir.
//
// Each image is fetched independently: a failed lookup or download is
// recorded in Result.Failed and does not abort the pass. The only fatal error
// is failure to locate a successful workflow run at all.
func (f *Fetcher) FetchMissing(
	ctx context.Context,
	missing []string,
	destDir string,
) (Result, error) {
	result := Result{Failed: make(map[string]error)}

	if len(missing) == 0 {
		return result, nil
	}

	runID, err := f.latestSuccessfulRun(ctx)
	if err != nil {
		return result, err
	}

	artifacts, err := f.listArtifacts(ctx, runID)
	if err != nil {
		return result, err
	}

	for _, image := range missing {
		archives, fetchErr := f.fetchImage(ctx, image, artifacts, destDir)
		if fetchErr != nil {
			result.Failed[image] = fetchErr

			continue
		}

		result.Archives = append(result.Archives, archives...)
	}

	return result, nil
}

// latestSuccessfulRun returns the ID of the most recent successful run of the
// configured workflow, optionally branch-scoped.
func (f *Fetcher) latestSuccessfulRun(ctx context.Context) (int64, error) {
	opts := &github.ListWorkflowRunsOptions{
		Branch:      f.opts.Branch,
		Status:      "success",
		ListOptions: github.ListOptions{PerPage: 1},
	}

	runs, _, err := f.actions.ListWorkflowRunsByFileName(
		ctx,
		f.opts.Owner,
		f.opts.Repo,
		f.opts.WorkflowFile,
		opts,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to list workflow runs: %w", err)
	}

	if runs == nil || len(runs.WorkflowRuns) == 0 {
		return 0, fmt.Errorf(
			"%w: workflow %s in %s/%s",
			ErrNoWorkflowRun,
			f.opts.WorkflowFile,
			f.opts.Owner,
			f.opts.Repo,
		)
	}

	return runs.WorkflowRuns[0].GetID(), nil
}

// listArtifacts returns all non-expired artifacts of a run.
func (f *Fetcher) listArtifacts(
	ctx context.Context,
	runID int64,
) ([]*github.Artifact, error) {
	var artifacts []*github.Artifact

	opts := &github.ListOptions{PerPage: 100} //nolint:mnd // API page size

	for {
		list, resp, err := f.actions.ListWorkflowRunArtifacts(
			ctx,
			f.opts.Owner,
			f.opts.Repo,
			runID,
			opts,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to list run artifacts: %w", err)
		}

		for _, artifact := range list.Artifacts {
			if artifact.GetExpired() {
				continue
			}

			artifacts = append(artifacts, artifact)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}

		opts.Page = resp.NextPage
	}

	return artifacts, nil
}

// fetchImage finds the artifact matching an image, downloads its zip, and
// extracts the contained tar archives into destDir.
func (f *Fetcher) fetchImage(
	ctx context.Context,
	image string,
	artifacts []*github.Artifact,
	destDir string,
) ([]string, error) {
	var match *github.Artifact

	for _, artifact := range artifacts {
		if f.matchesImage(artifact.GetName(), image) {
			match = artifact

			break
		}
	}

	if match == nil {
		return nil, fmt.Errorf(
			"%w: pattern %s",
			ErrNoMatchingArtifact,
			ArtifactPattern(image),
		)
	}

	downloadURL, _, err := f.actions.DownloadArtifact(
		ctx,
		f.opts.Owner,
		f.opts.Repo,
		match.GetID(),
		maxDownloadRedirects,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve artifact download: %w", err)
	}

	if downloadURL == nil {
		return nil, ErrDownloadRedirect
	}

	zipPath := filepath.Join(destDir, match.GetName()+".zip")

	err = f.downloadFile(ctx, downloadURL.String(), zipPath)
	if err != nil {
		return nil, err
	}

	defer func() { _ = os.Remove(zipPath) }()

	archives, err := extractTars(zipPath, destDir)
	if err != nil {
		return nil, err
	}

	if len(archives) == 0 {
		return nil, fmt.Errorf(
			"%w: artifact %s contains no tar archive",
			ErrNoMatchingArtifact,
			match.GetName(),
		)
	}

	return archives, nil
}

// downloadFile streams a URL to a local file.
func (f *Fetcher) downloadFile(ctx context.Context, rawURL, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build download request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download artifact: %w", err)
	}

	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("artifact download returned status %d", resp.StatusCode)
	}

	destFile, err := os.Create(destPath) //nolint:gosec // Path is from internal code
	if err != nil {
		return fmt.Errorf("failed to create download file: %w", err)
	}

	defer func() { _ = destFile.Close() }()

	_, err = io.Copy(destFile, resp.Body)
	if err != nil {
		return fmt.Errorf("failed to write download file: %w", err)
	}

	return nil
}

// extractTars extracts every .tar member of an artifact zip into destDir and
// returns their paths.
func extractTars(zipPath, destDir string) ([]string, error) {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact zip: %w", err)
	}

	defer func() { _ = reader.Close() }()

	var archives []string

	for _, member := range reader.File {
		if member.FileInfo().IsDir() || !strings.HasSuffix(member.Name, ".tar") {
			continue
		}

		destPath := filepath.Join(destDir, filepath.Base(member.Name))

		err = extractMember(member, destPath)
		if err != nil {
			return nil, err
		}

		archives = append(archives, destPath)
	}

	return archives, nil
}

// extractMember writes one zip member to destPath.
func extractMember(member *zip.File, destPath string) error {
	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("failed to open zip member %s: %w", member.Name, err)
	}

	defer func() { _ = src.Close() }()

	dst, err := os.Create(destPath) //nolint:gosec // Path is from internal code
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}

	defer func() { _ = dst.Close() }()

	_, err = io.Copy(dst, src) //nolint:gosec // CI artifacts from a trusted workflow
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", member.Name, err)
	}

	return nil
}
