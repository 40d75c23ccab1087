// Package artifact provides long-term storage of report bundles. The engine
// uploads best-effort on successful executions; deletion is driven by an
// external cleanup path.
package artifact

import "context"

// Store uploads and deletes report bundles keyed by a remote prefix.
type Store interface {
	// Upload stores every file under localDir beneath remoteKey.
	Upload(ctx context.Context, localDir, remoteKey string) error

	// Delete removes all objects under the given key or prefix.
	Delete(ctx context.Context, remoteKeyOrPrefix string) error
}

// NoopStore discards uploads. Used when no artifact bucket is configured.
type NoopStore struct{}

// Upload is a no-op.
func (NoopStore) Upload(ctx context.Context, localDir, remoteKey string) error { return nil }

// Delete is a no-op.
func (NoopStore) Delete(ctx context.Context, remoteKeyOrPrefix string) error { return nil }
