// Package sink defines where accepted artifacts are delivered for
// downstream classification. The abstraction keeps the engine
// independent of the transport (Pub/Sub in deployment, memory in tests).
package sink

import (
	"context"
	"sync"

	"github.com/aqxion/leadcrawler/internal/fetch"
)

// Provider delivers accepted artifacts to the downstream pipeline.
type Provider interface {
	// Publish hands off one artifact. Implementations may be
	// asynchronous; a nil error means the artifact was accepted for
	// delivery, not that it arrived.
	Publish(ctx context.Context, artifact fetch.Artifact) error

	// Close cleans up any client connections and resources.
	Close() error
}

// NoOp discards artifacts. Useful when running the engine standalone.
type NoOp struct{}

// Publish does nothing and returns nil.
func (NoOp) Publish(_ context.Context, _ fetch.Artifact) error { return nil }

// Close does nothing and returns nil.
func (NoOp) Close() error { return nil }

// Memory records artifacts in process. Used in tests and demos.
type Memory struct {
	mu        sync.Mutex
	artifacts []fetch.Artifact
}

// NewMemory creates an empty in-memory sink.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish appends the artifact to the in-memory record.
func (m *Memory) Publish(_ context.Context, artifact fetch.Artifact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.artifacts = append(m.artifacts, artifact)
	return nil
}

// Artifacts returns a copy of everything published so far.
func (m *Memory) Artifacts() []fetch.Artifact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]fetch.Artifact(nil), m.artifacts...)
}

// Close does nothing and returns nil.
func (m *Memory) Close() error { return nil }
