package runtime

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandRunner executes a host command and returns its stdout.
// The default implementation shells out; tests substitute a fake.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecCommandRunner runs commands with os/exec.
type ExecCommandRunner struct{}

// Run executes the command and returns stdout. Stderr is included in the
// returned error on failure.
func (ExecCommandRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	var stdout, stderr strings.Builder

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, stderr.String())
	}

	return stdout.String(), nil
}

// PodmanRuntime manages images in the host-local Podman store via the podman
// CLI.
type PodmanRuntime struct {
	runner CommandRunner
}

// NewPodmanRuntime creates a Podman-backed runtime. A nil runner defaults to
// executing podman on the host.
func NewPodmanRuntime(runner CommandRunner) *PodmanRuntime {
	if runner == nil {
		runner = ExecCommandRunner{}
	}

	return &PodmanRuntime{runner: runner}
}

// Name identifies the backend for progress output.
func (p *PodmanRuntime) Name() string {
	return "podman"
}

// ListImages returns every tagged image in the host-local store. Untagged
// entries (repository or tag reported as "<none>") are skipped.
func (p *PodmanRuntime) ListImages(ctx context.Context) ([]ImageRecord, error) {
	output, err := p.runner.Run(
		ctx,
		"podman", "images", "--format", "{{.Repository}}:{{.Tag}}",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list podman images: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	records := make([]ImageRecord, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "<none>") {
			continue
		}

		records = append(records, ParseRecord(line))
	}

	return records, nil
}

// LoadArchive loads a tar image archive into the host-local store.
func (p *PodmanRuntime) LoadArchive(ctx context.Context, archivePath string) error {
	_, err := os.Stat(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, archivePath)
		}

		return fmt.Errorf("failed to stat archive: %w", err)
	}

	_, err = p.runner.Run(ctx, "podman", "load", "--input", archivePath)
	if err != nil {
		return fmt.Errorf("podman load failed: %w", err)
	}

	return nil
}

// Tag makes an image addressable under an additional reference.
func (p *PodmanRuntime) Tag(ctx context.Context, srcRef, dstRef string) error {
	_, err := p.runner.Run(ctx, "podman", "tag", srcRef, dstRef)
	if err != nil {
		return fmt.Errorf("podman tag %s -> %s failed: %w", srcRef, dstRef, err)
	}

	return nil
}
