// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Connection state, reconnects and inbound decode failures
//   - Commands sent per transport and their latency
//   - Gesture commands emitted and moves dropped by the throttle
//   - The remote service's own /stats snapshot
package metrics
