// Package runtime provides access to the container runtimes the CI jobs load
// test images into.
//
// Two backends are supported:
//   - Kind: images live in the containerd store inside the cluster's
//     control-plane node container, not on the host. All operations go
//     through the Docker SDK (container exec of ctr commands plus archive
//     copy), so no binaries are required on the host machine.
//   - Podman: images live in the host-local store and are managed through the
//     podman CLI.
package runtime

import "errors"

// Sentinel errors for the runtime package.
var (
	// ErrExecFailed is returned when a container exec command fails.
	ErrExecFailed = errors.New("container exec failed")
	// ErrNoControlPlane is returned when no control-plane node container is
	// found for a Kind cluster.
	ErrNoControlPlane = errors.New("no control-plane node found for cluster")
	// ErrArchiveNotFound is returned when an image archive does not exist.
	ErrArchiveNotFound = errors.New("image archive does not exist")
)
