// Package protocol owns the message model shared by producers, relays and
// consumers.
//
// Ownership boundary:
// - bounds: checked buffer access and hard size limits
// - schema: domains, sources, TLV type registry
// - frame: 32-byte header, checksum, stream framing
// - tlv: payload records
// - validation: per-domain admission policy
// - records: typed payload values
//
// This package ties them together: Builder produces finalized messages, Parse
// turns bytes back into a Message, and Classify sorts failures into the error
// taxonomy.
package protocol
