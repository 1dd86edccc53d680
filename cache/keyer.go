package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Keyer derives deterministic cache keys from a function name and its
// arguments.
//
// Contract:
// - Determinism: equal arguments produce equal keys regardless of map
//   iteration order or struct field declaration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(name string, args any) (string, error)
}

// DefaultKeyer hashes the canonical JSON encoding of the arguments.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a new default keyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns cache:<name>:<hash>, where hash is the first 16 hex
// characters of SHA-256 over the canonical JSON of args.
func (k *DefaultKeyer) Key(name string, args any) (string, error) {
	canonical, err := canonicalize(args)
	if err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize arguments: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "cache:" + name + ":" + hex.EncodeToString(sum[:8]), nil
}

// canonicalize re-encodes v through a generic JSON tree. encoding/json
// writes map keys sorted, so structs and maps with the same content
// collapse to one encoding. Numbers stay json.Number to keep precision.
func canonicalize(v any) ([]byte, error) {
	if v == nil {
		return []byte("null"), nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, err
	}
	return json.Marshal(tree)
}

var _ Keyer = (*DefaultKeyer)(nil)
