// Package runner manages the process lifecycle: it starts services in
// dependency order, stops them in reverse, and aggregates health.
package runner

import "context"

// Service is one unit of the process lifecycle.
type Service interface {
	// Name identifies the service in logs and errors.
	Name() string

	// Start brings the service up and returns once it is ready to do
	// work. It must respect ctx cancellation while preparing.
	Start(ctx context.Context) error

	// Stop shuts the service down within ctx's deadline.
	Stop(ctx context.Context) error
}

// HealthChecker is implemented by services that can report health.
type HealthChecker interface {
	Service

	// HealthCheck returns an error when the service is unhealthy.
	HealthCheck(ctx context.Context) error
}
