// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package core provides health checking for the components of the service.
package core

import (
	"context"
	"encoding/json"
	"time"
)

// HealthStatus represents the health state of a component.
type HealthStatus string

const (
	// HealthHealthy indicates the component is fully operational.
	HealthHealthy HealthStatus = "HEALTHY"

	// HealthDegraded indicates the component serves requests with reduced
	// quality or while rebuilding.
	HealthDegraded HealthStatus = "DEGRADED"

	// HealthUnhealthy indicates the component is not operational.
	HealthUnhealthy HealthStatus = "UNHEALTHY"
)

// HealthResult represents the result of a health check.
type HealthResult struct {
	Status    HealthStatus
	Component string
	Message   string
	LastCheck time.Time
	Error     error
	// Details carries component specific facts, such as record counts.
	Details map[string]any
}

// MarshalJSON renders the error as its message.
func (r HealthResult) MarshalJSON() ([]byte, error) {
	out := struct {
		Status    HealthStatus   `json:"status"`
		Component string         `json:"component,omitempty"`
		Message   string         `json:"message,omitempty"`
		LastCheck time.Time      `json:"last_check"`
		Error     string         `json:"error,omitempty"`
		Details   map[string]any `json:"details,omitempty"`
	}{
		Status:    r.Status,
		Component: r.Component,
		Message:   r.Message,
		LastCheck: r.LastCheck,
		Details:   r.Details,
	}
	if r.Error != nil {
		out.Error = r.Error.Error()
	}
	return json.Marshal(out)
}

// HealthChecker checks the health of a component.
type HealthChecker interface {
	// Check returns the current health status of the component.
	// The context can be used to implement timeouts.
	Check(ctx context.Context) HealthResult
}

// HealthCheckProvider provides health check results for multiple components.
type HealthCheckProvider interface {
	// RegisterChecker registers a health checker for a component.
	RegisterChecker(name string, checker HealthChecker)

	// CheckAll checks the health of all registered components.
	// Returns individual results and overall status.
	CheckAll(ctx context.Context) ([]HealthResult, HealthStatus)

	// Check checks the health of a specific component.
	Check(ctx context.Context, name string) (HealthResult, error)
}

// Worst returns the most severe of the given statuses. No statuses is
// healthy.
func Worst(statuses ...HealthStatus) HealthStatus {
	overall := HealthHealthy
	for _, s := range statuses {
		switch s {
		case HealthUnhealthy:
			return HealthUnhealthy
		case HealthDegraded:
			overall = HealthDegraded
		}
	}
	return overall
}
