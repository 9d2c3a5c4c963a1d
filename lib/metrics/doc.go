// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metrics holds the Prometheus collectors for the bridge and
// the HTTP handler that exposes them.
//
// Collectors are registered against an explicit [prometheus.Registerer]
// so tests can use a private registry. Every recording method is safe
// on a nil *Metrics, which lets components run without metrics.
package metrics
