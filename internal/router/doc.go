// Package router holds the single-consumer event queue and routes unsolicited
// messages from the remote service to handlers by message type.
package router
