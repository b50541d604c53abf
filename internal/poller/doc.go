// Package poller implements the Stats Poller component.
//
// The Stats Poller:
//   - Polls GET /stats every 3 seconds, matching the remote service dashboard
//   - Hands each snapshot to a handler (metrics, CLI output)
//   - Logs and counts failures without stopping
package poller
