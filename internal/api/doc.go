// Package api is the stateless HTTP transport to the remote input service.
//
// Endpoints:
//   - GET  /press?key=<key>&duration=<ms>
//   - POST /type             {"text": "..."}
//   - POST /actions          [{"key": "...", "duration": ms}, ...]
//   - GET  /stats
//   - POST /touchpad/move    {"deltaX": n, "deltaY": n, "dpi": f}
//   - POST /touchpad/click   {"button": "left|right", "type": "single|double"}
//   - POST /touchpad/scroll  {"deltaX": n, "deltaY": n}
//
// The duplex channel lives at /ws on the same host; see WebSocketURL.
package api
