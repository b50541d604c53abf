// Package connection implements the Connection Manager component.
//
// The Connection Manager:
//   - Maintains one persistent WebSocket channel to the remote input service
//   - Correlates request/response messages by request_id
//   - Reconnects with exponential backoff after abnormal closes
//   - Falls back to HTTP after repeated failures or on a manual mode switch
//   - Routes unsolicited pushes (pong, broadcast) to a PushHandler
package connection
