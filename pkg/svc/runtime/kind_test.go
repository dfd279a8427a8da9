package runtime_test

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shawn-hurley/ci/pkg/svc/runtime"
)

// execResponse is one canned exec outcome.
type execResponse struct {
	stdout   string
	stderr   string
	exitCode int
}

// fakeDockerAPI implements runtime.DockerAPI with canned containers and a
// queue of exec responses consumed in call order.
type fakeDockerAPI struct {
	containers []container.Summary
	responses  []execResponse

	execCmds  [][]string
	copyPaths []string
	copyData  []byte
}

func (f *fakeDockerAPI) ContainerList(
	_ context.Context,
	_ container.ListOptions,
) ([]container.Summary, error) {
	return f.containers, nil
}

func (f *fakeDockerAPI) ContainerExecCreate(
	_ context.Context,
	_ string,
	options container.ExecOptions,
) (container.ExecCreateResponse, error) {
	f.execCmds = append(f.execCmds, options.Cmd)

	return container.ExecCreateResponse{ID: strconv.Itoa(len(f.execCmds) - 1)}, nil
}

func (f *fakeDockerAPI) ContainerExecAttach(
	_ context.Context,
	execID string,
	_ container.ExecAttachOptions,
) (types.HijackedResponse, error) {
	resp := f.responseFor(execID)

	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(resp.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(resp.stderr))

	clientConn, serverConn := net.Pipe()
	_ = serverConn.Close()

	return types.HijackedResponse{
		Conn:   clientConn,
		Reader: bufio.NewReader(&buf),
	}, nil
}

func (f *fakeDockerAPI) ContainerExecInspect(
	_ context.Context,
	execID string,
) (container.ExecInspect, error) {
	return container.ExecInspect{ExitCode: f.responseFor(execID).exitCode}, nil
}

func (f *fakeDockerAPI) CopyToContainer(
	_ context.Context,
	_ string,
	path string,
	content io.Reader,
	_ container.CopyToContainerOptions,
) error {
	f.copyPaths = append(f.copyPaths, path)
	data, _ := io.ReadAll(content)
	f.copyData = data

	return nil
}

func (f *fakeDockerAPI) responseFor(execID string) execResponse {
	idx, err := strconv.Atoi(execID)
	if err != nil || idx >= len(f.responses) {
		return execResponse{}
	}

	return f.responses[idx]
}

func controlPlaneContainer(name string) container.Summary {
	return container.Summary{
		ID:    "abc123",
		Names: []string{"/" + name},
		Labels: map[string]string{
			"io.x-k8s.kind.cluster": "konveyor",
			"io.x-k8s.kind.role":    "control-plane",
		},
	}
}

func TestKindListImages(t *testing.T) {
	t.Parallel()

	fake := &fakeDockerAPI{
		containers: []container.Summary{controlPlaneContainer("konveyor-control-plane")},
		responses: []execResponse{
			{stdout: strings.Join([]string{
				"quay.io/konveyor/tackle2-hub:pr-9",
				"sha256:deadbeef",
				"",
				"registry.k8s.io/pause:3.9",
			}, "\n")},
		},
	}

	kind := runtime.NewKindRuntime(fake, "konveyor")

	images, err := kind.ListImages(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []runtime.ImageRecord{
		{Repository: "quay.io/konveyor/tackle2-hub", Tag: "pr-9"},
		{Repository: "registry.k8s.io/pause", Tag: "3.9"},
	}, images)

	require.Len(t, fake.execCmds, 1)
	assert.Equal(
		t,
		[]string{"ctr", "--namespace=k8s.io", "images", "list", "-q"},
		fake.execCmds[0],
	)
}

func TestKindListImagesNoControlPlane(t *testing.T) {
	t.Parallel()

	kind := runtime.NewKindRuntime(&fakeDockerAPI{}, "konveyor")

	_, err := kind.ListImages(context.Background())

	require.ErrorIs(t, err, runtime.ErrNoControlPlane)
}

func TestKindListImagesExecFailure(t *testing.T) {
	t.Parallel()

	fake := &fakeDockerAPI{
		containers: []container.Summary{controlPlaneContainer("konveyor-control-plane")},
		responses:  []execResponse{{stderr: "ctr: not found", exitCode: 127}},
	}

	kind := runtime.NewKindRuntime(fake, "konveyor")

	_, err := kind.ListImages(context.Background())

	require.ErrorIs(t, err, runtime.ErrExecFailed)
	assert.Contains(t, err.Error(), "ctr: not found")
}

func TestKindLoadArchive(t *testing.T) {
	t.Parallel()

	archivePath := filepath.Join(t.TempDir(), "image.tar")
	require.NoError(t, os.WriteFile(archivePath, []byte("tar content"), 0o600))

	fake := &fakeDockerAPI{
		containers: []container.Summary{controlPlaneContainer("konveyor-control-plane")},
		// Responses for ctr import and the rm cleanup.
		responses: []execResponse{{}, {}},
	}

	kind := runtime.NewKindRuntime(fake, "konveyor")

	err := kind.LoadArchive(context.Background(), archivePath)

	require.NoError(t, err)

	// The archive is staged under /root because Kind mounts a tmpfs on /tmp.
	require.Len(t, fake.copyPaths, 1)
	assert.Equal(t, "/root", fake.copyPaths[0])
	assert.Contains(t, string(fake.copyData), "tar content")

	require.Len(t, fake.execCmds, 2)
	assert.Equal(t, []string{
		"ctr", "--namespace=k8s.io", "images", "import",
		"--digests",
		"/root/ci-images-load.tar",
	}, fake.execCmds[0])
	assert.Equal(t, []string{"rm", "-f", "/root/ci-images-load.tar"}, fake.execCmds[1])
}

func TestKindLoadArchiveMissingFile(t *testing.T) {
	t.Parallel()

	kind := runtime.NewKindRuntime(&fakeDockerAPI{}, "konveyor")

	err := kind.LoadArchive(context.Background(), "/nonexistent/image.tar")

	require.ErrorIs(t, err, runtime.ErrArchiveNotFound)
}

func TestKindLoadArchiveStatFailure(t *testing.T) {
	t.Parallel()

	// A path whose parent is a regular file fails stat with ENOTDIR, which is
	// not a not-exist error and must surface as-is.
	parent := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(parent, []byte("x"), 0o600))

	fake := &fakeDockerAPI{
		containers: []container.Summary{controlPlaneContainer("konveyor-control-plane")},
	}
	kind := runtime.NewKindRuntime(fake, "konveyor")

	err := kind.LoadArchive(context.Background(), filepath.Join(parent, "image.tar"))

	require.Error(t, err)
	assert.NotErrorIs(t, err, runtime.ErrArchiveNotFound)
	assert.Contains(t, err.Error(), "failed to stat archive")
	assert.Empty(t, fake.copyPaths)
	assert.Empty(t, fake.execCmds)
}

func TestKindTag(t *testing.T) {
	t.Parallel()

	fake := &fakeDockerAPI{
		containers: []container.Summary{controlPlaneContainer("konveyor-control-plane")},
		responses:  []execResponse{{}},
	}

	kind := runtime.NewKindRuntime(fake, "konveyor")

	err := kind.Tag(
		context.Background(),
		"quay.io/konveyor/tackle2-hub:latest",
		"quay.io/konveyor/tackle2-hub:pr-9",
	)

	require.NoError(t, err)
	require.Len(t, fake.execCmds, 1)
	assert.Equal(t, []string{
		"ctr", "--namespace=k8s.io", "images", "tag",
		"--force",
		"quay.io/konveyor/tackle2-hub:latest",
		"quay.io/konveyor/tackle2-hub:pr-9",
	}, fake.execCmds[0])
}

func TestKindName(t *testing.T) {
	t.Parallel()

	kind := runtime.NewKindRuntime(&fakeDockerAPI{}, "konveyor")

	assert.Equal(t, "kind/konveyor", kind.Name())
}
