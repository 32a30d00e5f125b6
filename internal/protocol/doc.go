// Package protocol owns the OpenIGTLink wire contract shared by all transport code.
//
// Ownership boundary:
// - frame: 58-byte message header, byte-order conversion, CRC64
// - message: IMAGE/TRANSFORM bodies and matrix conventions
// - session: connector timeouts, retry and integrity policy
// - error taxonomy used across the receive path
package protocol
