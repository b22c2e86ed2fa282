// Package resource defines the abstract contract a container orchestrator
// backend must satisfy. internal/resource/kubernetes provides the one
// concrete implementation shipped today.
package resource

import (
	"context"

	"github.com/rucat-project/rucat/internal/engine"
)

// Status is the observed state of the orchestrator resource backing an engine.
type Status int

const (
	NotFound Status = iota
	Pending
	Running
	Failed
)

func (s Status) String() string {
	switch s {
	case NotFound:
		return "NotFound"
	case Pending:
		return "Pending"
	case Running:
		return "Running"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Client is the abstract resource client contract. Create and Delete are
// both idempotent on engineID: "already exists" and "not found" are reported
// as success, never as an error.
type Client interface {
	// Create provisions the resource backing engineID. Idempotent.
	Create(ctx context.Context, engineID string, engineType engine.Type, version string, configs map[string]string) error
	// Delete removes the resource backing engineID. Idempotent.
	Delete(ctx context.Context, engineID string) error
	// Status reports the current observed status of the resource.
	Status(ctx context.Context, engineID string) (Status, string, error)
}
