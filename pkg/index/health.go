// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package index

import (
	"context"
	"time"

	"github.com/jllopis/mathqa/pkg/core"
)

// Check implements core.HealthChecker. A published snapshot is healthy,
// and degraded while a rebuild runs; no snapshot is unhealthy.
func (ix *Index) Check(context.Context) core.HealthResult {
	res := core.HealthResult{
		Component: "index",
		LastCheck: time.Now(),
		Details: map[string]any{
			"state": ix.State().String(),
			"store": ix.store.Name(),
		},
	}
	cur := ix.current.Load()
	if cur != nil {
		res.Details["records"] = cur.snap.Len()
		res.Details["dimension"] = cur.snap.Dimension
		res.Details["model"] = cur.snap.Model
	}

	switch {
	case cur == nil:
		res.Status = core.HealthUnhealthy
		res.Message = "no snapshot loaded"
	case ix.State() == Building:
		res.Status = core.HealthDegraded
		res.Message = "serving previous snapshot while rebuilding"
	default:
		res.Status = core.HealthHealthy
		res.Message = "ready"
	}
	return res
}
