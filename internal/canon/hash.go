package canon

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

// Domain prefixes for content-addressed identity.
// The version suffix enables future algorithm migration.
const (
	DomainDirection = "mulsi/direction/v1"
	DomainVector    = "mulsi/vector/v1"
	DomainTrace     = "mulsi/trace/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte prevents
// domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// VectorHash hashes a float32 vector over its little-endian IEEE 754 bytes.
// This is the only place floats enter identity computation; the byte form
// is exact, so the hash is stable across platforms and formatters.
func VectorHash(vec []float32) string {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return hashWithDomain(DomainVector, buf)
}

// DirectionID computes the content-addressed ID for a steering direction.
// The ID is stable across restarts and re-estimation given the same inputs.
//
// The vector itself is represented by its VectorHash, never by decimal
// rendering, so the ID survives any change in float formatting.
func DirectionID(layer, method string, pairCount int, vectorHash string) (string, error) {
	obj := Object{
		"layer":       String(layer),
		"method":      String(method),
		"pair_count":  Int(int64(pairCount)),
		"vector_hash": String(vectorHash),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("DirectionID: failed to marshal: %w", err)
	}

	return hashWithDomain(DomainDirection, canonical), nil
}

// MustDirectionID is like DirectionID but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustDirectionID(layer, method string, pairCount int, vectorHash string) string {
	id, err := DirectionID(layer, method, pairCount, vectorHash)
	if err != nil {
		panic(err)
	}
	return id
}

// TraceHash computes a content-addressed hash over a canonical trace
// document. Used by the evaluation harness for golden comparison metadata.
func TraceHash(doc Object) (string, error) {
	canonical, err := MarshalCanonical(doc)
	if err != nil {
		return "", fmt.Errorf("TraceHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainTrace, canonical), nil
}
