package agentdb

import (
	"github.com/qLeviathan/agentdb/snapshot"
)

// Options configures a Store.
type Options struct {
	// Logger receives structured operation logs. Defaults to NoopLogger.
	Logger *Logger

	// Metrics receives operational metrics. Defaults to NoopMetricsCollector.
	Metrics MetricsCollector

	// SnapshotStore backs Snapshot and Restore. Nil disables snapshots.
	SnapshotStore snapshot.BlobStore

	// SnapshotCompression applies to snapshot sections.
	SnapshotCompression snapshot.Compression
}

// Option mutates Options.
type Option func(o *Options)

// WithLogger sets the structured logger.
func WithLogger(l *Logger) Option {
	return func(o *Options) { o.Logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithSnapshotStore enables snapshots against the given blob store.
func WithSnapshotStore(s snapshot.BlobStore) Option {
	return func(o *Options) { o.SnapshotStore = s }
}

// WithSnapshotCompression selects the snapshot codec.
func WithSnapshotCompression(c snapshot.Compression) Option {
	return func(o *Options) { o.SnapshotCompression = c }
}
