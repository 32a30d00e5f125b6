// Package session owns connector session policy.
//
// Ownership boundary:
// - accept/connect/read/write timeouts
// - reconnect policy and backoff
// - body integrity (CRC) policy and frame limits
package session
