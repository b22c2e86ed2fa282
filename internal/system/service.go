// Package system provides the lifecycle-management primitives both binaries
// use to start and stop their components uniformly.
package system

import "context"

// Service is anything with a startable/stoppable lifecycle: the HTTP
// server, the monitor's tick loop, etc.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
