// Package remote sends user commands to the remote input service.
//
// The Controller prefers the duplex channel when it is connected and uses the
// HTTP endpoints otherwise. It keeps a single human-readable status line and a
// short in-memory history of call latencies.
package remote
