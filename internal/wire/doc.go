// Package wire defines the message envelope exchanged with the remote input service.
//
// The same envelope travels over the duplex channel and is mirrored in HTTP bodies:
//
//	{"type": "...", "data": {...}, "timestamp": "2006-01-02T15:04:05Z", "request_id": "..." | null}
//
// Conventions:
//   - request_id is set only on calls that expect a reply
//   - Durations on the wire are integer milliseconds
//   - Pointer deltas are integer pixels, already DPI-scaled by the sender
package wire
