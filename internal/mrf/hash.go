package mrf

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Hash sorts record's top-level key/value pairs by key ascending, encodes
// the sorted list as a compact JSON array of [key, value] pairs, takes
// SHA-256, and truncates to the first 16 hex characters — mirroring
// mrfutils.hashdict in the original implementation exactly. An empty record
// fails, per §4.7.
func Hash(record map[string]interface{}) (string, error) {
	if len(record) == 0 {
		return "", fmt.Errorf("cannot hash an empty record")
	}

	keys := make([]string, 0, len(record))
	for k := range record {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([][2]interface{}, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]interface{}{k, record[k]})
	}

	encoded, err := json.Marshal(pairs)
	if err != nil {
		return "", fmt.Errorf("encoding record for hashing: %w", err)
	}

	sum := sha256.Sum256(encoded)
	return hex.EncodeToString(sum[:])[:16], nil
}
