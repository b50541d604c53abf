// Package gesture turns raw pointer and touch samples into discrete remote commands.
//
// A gesture starts on pointer-down and ends in exactly one of four ways:
//   - long press: the pointer is held still for LongPress; a secondary click is sent
//   - short click: the pointer is released within ClickMax; a primary click is sent
//   - silent end: the pointer is released later without a long press firing
//   - no-op: an End or Move with no gesture in progress
//
// Moves of at least MoveThreshold pixels cancel the long press and are sent as relative
// moves, scaled by the DPI multiplier and throttled to one per Throttle interval. The
// throttle runs on sample timestamps, so a dropped sample's movement is carried into the
// next emitted move.
//
// Samples and timer fires are events on one queue drained by Run; the recognizer state
// is only touched from that loop.
package gesture
