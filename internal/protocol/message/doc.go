// Package message owns IMAGE and TRANSFORM body layouts.
//
// Ownership boundary:
// - 72-byte image header, scalar widths, sub-volume placement
// - 48-byte transform body and the packed 12-float matrix convention
// - closed set of message kinds resolved from the header device type
package message
