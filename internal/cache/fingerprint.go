package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Fingerprint derives a stable cache key from a provider, a method and its
// parameters. Map keys are serialized in sorted order at every nesting
// level, so two requests that differ only in key order share a key.
func Fingerprint(provider, method string, params map[string]any) string {
	h := sha256.New()
	h.Write([]byte(provider))
	h.Write([]byte{0})
	h.Write([]byte(method))
	h.Write([]byte{0})

	canonical, err := json.Marshal(params)
	if err != nil {
		// Unserializable values still hash deterministically by their
		// printed form.
		canonical = []byte(fmt.Sprintf("%v", params))
	}
	h.Write(canonical)

	return hex.EncodeToString(h.Sum(nil))
}
