// Package publish copies report artifacts to remote storage once a run is
// complete.
package publish

import "context"

// Artifact is a local file and the key it is published under, relative to
// the run prefix.
type Artifact struct {
	Path string
	Key  string
}

// Publisher uploads report artifacts to remote storage.
type Publisher interface {
	// Preflight verifies that the remote storage is reachable and writable.
	Preflight(ctx context.Context) error

	// Publish uploads artifacts under <prefix>/<branch>/<run>. Artifacts
	// whose file does not exist are skipped. Returns the uploaded keys.
	Publish(ctx context.Context, branch, run string, artifacts []Artifact) ([]string, error)
}
