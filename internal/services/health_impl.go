package services

import (
	"context"
)

// ReadinessCheck reports whether a dependency is ready to serve
type ReadinessCheck func(ctx context.Context) error

// HealthImplementation implements the health service
type HealthImplementation struct {
	checks map[string]ReadinessCheck
}

// NewHealthService creates a new health service implementation
func NewHealthService(checks map[string]ReadinessCheck) *HealthImplementation {
	if checks == nil {
		checks = map[string]ReadinessCheck{}
	}
	return &HealthImplementation{checks: checks}
}

// Healthz implements the liveness probe
func (h *HealthImplementation) Healthz(ctx context.Context) error {
	return nil
}

// Readyz implements the readiness probe. The first failing check makes the
// service unavailable.
func (h *HealthImplementation) Readyz(ctx context.Context) error {
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			return Unavailable(name + ": " + err.Error())
		}
	}
	return nil
}
