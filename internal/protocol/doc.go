// Package protocol implements the TLV capture protocol: parsing, validation
// and encoding of start, audio and stop packets. Headers and numeric fields
// are big-endian; audio samples are float32 little-endian.
package protocol
