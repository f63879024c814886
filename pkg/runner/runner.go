package runner

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultStartupTimeout  = time.Minute
	defaultShutdownTimeout = 30 * time.Second
)

// Runner starts services in registration order and stops them in
// reverse, so dependents go down before their dependencies.
type Runner struct {
	services        []Service
	logger          Logger
	startupTimeout  time.Duration
	shutdownTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithStartupTimeout bounds each service's Start call.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.startupTimeout = timeout
		}
	}
}

// WithShutdownTimeout bounds the whole shutdown sequence.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.shutdownTimeout = timeout
		}
	}
}

// New creates a Runner over the given services.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          NewNoopLogger(),
		startupTimeout:  defaultStartupTimeout,
		shutdownTimeout: defaultShutdownTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run starts every service, blocks until ctx is cancelled or an
// interrupt arrives, then stops the started services. A failed start
// stops the services already running and returns the start error.
func (r *Runner) Run(ctx context.Context) error {
	ctx, stop := WithSignals(ctx)
	defer stop()

	started, err := r.startAll(ctx)
	if err != nil {
		if stopErr := r.stopAll(started); stopErr != nil {
			return errors.Join(err, stopErr)
		}
		return err
	}
	r.logger.Info("all services started", "count", len(started))

	<-ctx.Done()
	r.logger.Info("shutting down", "timeout", r.shutdownTimeout.String())
	return r.stopAll(started)
}

func (r *Runner) startAll(ctx context.Context) ([]Service, error) {
	started := make([]Service, 0, len(r.services))
	for _, svc := range r.services {
		r.logger.Info("starting service", "service", svc.Name())

		startCtx, cancel := context.WithTimeout(ctx, r.startupTimeout)
		err := svc.Start(startCtx)
		cancel()

		if err != nil {
			r.logger.Error("service failed to start",
				"service", svc.Name(), "error", err.Error())
			return started, fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		started = append(started, svc)
	}
	return started, nil
}

// stopAll stops services in reverse start order under one shutdown
// deadline. Every stop is attempted even when earlier ones fail.
func (r *Runner) stopAll(started []Service) error {
	if len(started) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var errs []error
	for i := len(started) - 1; i >= 0; i-- {
		svc := started[i]
		r.logger.Info("stopping service", "service", svc.Name())

		if err := svc.Stop(ctx); err != nil {
			r.logger.Error("service failed to stop",
				"service", svc.Name(), "error", err.Error())
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
			continue
		}
		r.logger.Debug("service stopped", "service", svc.Name())
	}
	return errors.Join(errs...)
}

// HealthCheck probes every service that implements HealthChecker and
// reports the first unhealthy one.
func (r *Runner) HealthCheck(ctx context.Context) error {
	for _, svc := range r.services {
		hc, ok := svc.(HealthChecker)
		if !ok {
			continue
		}
		if err := hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("service %s unhealthy: %w", svc.Name(), err)
		}
	}
	return nil
}
