package runtime

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
)

// Kind node container labels.
const (
	labelKindCluster = "io.x-k8s.kind.cluster"
	labelKindRole    = "io.x-k8s.kind.role"
	roleControlPlane = "control-plane"
)

// Kind node containers mount a tmpfs on /tmp which the Docker copy API can't
// write through, so archives are staged under /root instead.
const kindTmpBasePath = "/root"

const containerdNamespace = "k8s.io"

// KindRuntime manages images in the containerd store of a Kind cluster's
// control-plane node. All operations run through the Docker SDK; nothing is
// executed on the host.
type KindRuntime struct {
	dockerClient DockerAPI
	executor     *ContainerExecutor
	clusterName  string

	// nodeName caches the discovered control-plane container name.
	nodeName string
}

// NewKindRuntime creates a runtime for the named Kind cluster.
func NewKindRuntime(dockerClient DockerAPI, clusterName string) *KindRuntime {
	return &KindRuntime{
		dockerClient: dockerClient,
		executor:     NewContainerExecutor(dockerClient),
		clusterName:  clusterName,
	}
}

// Name identifies the backend for progress output.
func (k *KindRuntime) Name() string {
	return "kind/" + k.clusterName
}

// ListImages returns every tagged image known to the control-plane node's
// containerd. Digest-only references are skipped.
func (k *KindRuntime) ListImages(ctx context.Context) ([]ImageRecord, error) {
	nodeName, err := k.controlPlaneNode(ctx)
	if err != nil {
		return nil, err
	}

	cmd := []string{"ctr", "--namespace=" + containerdNamespace, "images", "list", "-q"}

	output, err := k.executor.ExecInContainer(ctx, nodeName, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to list images in node %s: %w", nodeName, err)
	}

	lines := strings.Split(strings.TrimSpace(output), "\n")
	records := make([]ImageRecord, 0, len(lines))

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "sha256:") {
			continue
		}

		records = append(records, ParseRecord(line))
	}

	return records, nil
}

// LoadArchive copies a tar image archive into the control-plane node and
// imports it into containerd.
func (k *KindRuntime) LoadArchive(ctx context.Context, archivePath string) error {
	_, err := os.Stat(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, archivePath)
		}

		return fmt.Errorf("failed to stat archive: %w", err)
	}

	nodeName, err := k.controlPlaneNode(ctx)
	if err != nil {
		return err
	}

	tmpPath := kindTmpBasePath + "/ci-images-load.tar"

	err = k.copyToContainer(ctx, nodeName, archivePath, tmpPath)
	if err != nil {
		return fmt.Errorf("failed to copy archive to node: %w", err)
	}

	// We don't use --all-platforms because multi-platform images may have
	// manifests for platforms whose layers aren't present, causing import
	// to fail.
	cmd := []string{
		"ctr", "--namespace=" + containerdNamespace, "images", "import",
		"--digests",
		tmpPath,
	}

	_, err = k.executor.ExecInContainer(ctx, nodeName, cmd)
	if err != nil {
		return fmt.Errorf("ctr import failed: %w", err)
	}

	// Clean up the staged archive in the node.
	_, _ = k.executor.ExecInContainer(ctx, nodeName, []string{"rm", "-f", tmpPath})

	return nil
}

// Tag makes an image in the node's containerd addressable under an
// additional reference.
func (k *KindRuntime) Tag(ctx context.Context, srcRef, dstRef string) error {
	nodeName, err := k.controlPlaneNode(ctx)
	if err != nil {
		return err
	}

	cmd := []string{
		"ctr", "--namespace=" + containerdNamespace, "images", "tag",
		"--force",
		srcRef, dstRef,
	}

	_, err = k.executor.ExecInContainer(ctx, nodeName, cmd)
	if err != nil {
		return fmt.Errorf("ctr tag %s -> %s failed: %w", srcRef, dstRef, err)
	}

	return nil
}

// controlPlaneNode finds the cluster's control-plane node container by Kind's
// container labels. The name is cached after the first lookup.
func (k *KindRuntime) controlPlaneNode(ctx context.Context) (string, error) {
	if k.nodeName != "" {
		return k.nodeName, nil
	}

	filterArgs := filters.NewArgs(
		filters.Arg("label", labelKindCluster+"="+k.clusterName),
		filters.Arg("label", labelKindRole+"="+roleControlPlane),
	)

	containers, err := k.dockerClient.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filterArgs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to list node containers: %w", err)
	}

	if len(containers) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoControlPlane, k.clusterName)
	}

	name := containers[0].ID
	if len(containers[0].Names) > 0 {
		name = strings.TrimPrefix(containers[0].Names[0], "/")
	}

	k.nodeName = name

	return name, nil
}

// copyToContainer copies a file from the host into a container.
func (k *KindRuntime) copyToContainer(
	ctx context.Context,
	containerName string,
	srcPath string,
	dstPath string,
) error {
	srcFile, err := os.Open(srcPath) //nolint:gosec // Path is from internal code
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}

	defer func() { _ = srcFile.Close() }()

	fileInfo, err := srcFile.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file: %w", err)
	}

	// The copy API consumes a tar stream containing the file.
	var buf bytes.Buffer

	tarWriter := tar.NewWriter(&buf)

	header := &tar.Header{
		Name: filepath.Base(dstPath),
		Mode: 0o644, //nolint:mnd // Standard file permission
		Size: fileInfo.Size(),
	}

	err = tarWriter.WriteHeader(header)
	if err != nil {
		return fmt.Errorf("failed to write tar header: %w", err)
	}

	_, err = io.Copy(tarWriter, srcFile)
	if err != nil {
		return fmt.Errorf("failed to write file to tar: %w", err)
	}

	err = tarWriter.Close()
	if err != nil {
		return fmt.Errorf("failed to close tar writer: %w", err)
	}

	err = k.dockerClient.CopyToContainer(
		ctx,
		containerName,
		filepath.Dir(dstPath),
		&buf,
		container.CopyToContainerOptions{},
	)
	if err != nil {
		return fmt.Errorf("failed to copy to container: %w", err)
	}

	return nil
}
