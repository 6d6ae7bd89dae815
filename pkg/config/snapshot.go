package config

import "time"

// Snapshot is one immutable observation of the bus document. Consumers build
// their compiled state from it and swap atomically; a snapshot is never
// mutated after publication.
type Snapshot struct {
	Generation int64
	ReceivedAt time.Time
	Document   *Document
}
