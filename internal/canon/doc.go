// Package canon provides canonical serialization and content-addressed
// identity for steering artifacts.
//
// Direction sets are persisted and shared between sessions, so every
// SteeringDirection carries a stable ID derived from its provenance.
// The ID must not depend on map iteration order, platform float formatting,
// or Unicode representation quirks, which is why hashing goes through
// RFC 8785 canonical JSON:
//
//   - Object keys sorted by UTF-16 code units (not UTF-8 bytes)
//   - Strings NFC normalized at the serialization boundary
//   - No HTML escaping
//   - Floats forbidden entirely
//
// Floats are forbidden because their textual form is not canonical across
// formatters. Direction vectors are instead hashed over their raw
// little-endian float32 bytes via VectorHash, and only that hex digest
// enters the canonical JSON document.
package canon
