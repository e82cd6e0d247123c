package cache

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// KeyBuilder derives deterministic cache keys from call content
type KeyBuilder struct {
	prefix string
}

// NewKeyBuilder creates a key builder. An empty prefix defaults to PrefixCall.
func NewKeyBuilder(prefix string) *KeyBuilder {
	if prefix == "" {
		prefix = PrefixCall
	}
	return &KeyBuilder{prefix: prefix}
}

// Build returns <prefix>:<dependency>:<hex digest>. The digest covers the
// dependency, the payload and the call parameters in canonical JSON form, so
// equivalent requests map to the same key regardless of field order.
func (kb *KeyBuilder) Build(dependency string, payload interface{}, params interface{}) (string, error) {
	canonical, err := Canonicalize(map[string]interface{}{
		"dependency": dependency,
		"payload":    payload,
		"params":     params,
	})
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize cache key input: %w", err)
	}

	sum := blake2b.Sum256(canonical)
	return fmt.Sprintf("%s:%s:%s", kb.prefix, dependency, hex.EncodeToString(sum[:])), nil
}

// Canonicalize renders v as JSON with object keys sorted at every level and
// numbers kept in their original textual form.
func Canonicalize(v interface{}) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var generic interface{}
	if err := decoder.Decode(&generic); err != nil {
		return nil, err
	}

	// encoding/json writes map keys in sorted order
	return json.Marshal(generic)
}
