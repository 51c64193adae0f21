// Package protocol owns the rover<->controller wire contract.
//
// Ownership boundary:
// - frame codec (length-prefixed JPEG payloads)
// - motor command codec (fixed 6-byte layout)
// - MotorCommand/Direction value types and validation
package protocol
