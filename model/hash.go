package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Hash is the content digest of a resource. Resource covers every field
// except identity bookkeeping and status; Status covers the status block.
type Hash struct {
	Resource string
	Status   string
}

// IsZero reports whether the hash has not been computed.
func (h Hash) IsZero() bool {
	return h.Resource == "" && h.Status == ""
}

// Hasher computes content digests.
type Hasher interface {
	Hash(v any) (Hash, error)
}

// volatileFields are the top-level JSON keys that never contribute to the
// resource digest.
var volatileFields = []string{"uuid", "rest_id", "touched_at", "persistent", "status"}

// ContentHasher hashes the canonical JSON form of a value.
//
// Canonical form:
//  1. Marshal the value to JSON and decode it into a generic map
//  2. Drop uuid, rest_id, touched_at, persistent and status, plus any extra
//     keys configured on the hasher
//  3. Marshal again; encoding/json sorts map keys, which makes the digest
//     independent of field and map ordering
//  4. SHA-256, hex encoded
//
// The status block is hashed the same way on its own.
type ContentHasher struct {
	exclude []string
}

// NewHasher returns a ContentHasher that additionally ignores the given
// top-level JSON keys.
func NewHasher(exclude ...string) *ContentHasher {
	keys := make([]string, 0, len(volatileFields)+len(exclude))
	keys = append(keys, volatileFields...)
	keys = append(keys, exclude...)
	return &ContentHasher{exclude: keys}
}

// Hash computes the digest of v, which must marshal to a JSON object.
func (h *ContentHasher) Hash(v any) (Hash, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Hash{}, fmt.Errorf("failed to marshal resource: %w", err)
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return Hash{}, fmt.Errorf("resource does not encode as a JSON object: %w", err)
	}

	status := fields["status"]
	for _, key := range h.exclude {
		delete(fields, key)
	}

	resourceDigest, err := digest(fields)
	if err != nil {
		return Hash{}, err
	}
	statusDigest, err := digest(status)
	if err != nil {
		return Hash{}, err
	}

	return Hash{Resource: resourceDigest, Status: statusDigest}, nil
}

func digest(v any) (string, error) {
	canonical, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to build canonical form: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
