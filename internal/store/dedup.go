package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// computeDedupKey uses the payload's "id" field when present and a short content hash otherwise.
func computeDedupKey(payload []byte) string {
	var m map[string]any
	if json.Unmarshal(payload, &m) == nil {
		if v, ok := m["id"].(string); ok && v != "" {
			return v
		}
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:8])
}

func sortDeliveries(items []WebhookDelivery) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].NextAttemptAt.Equal(items[j].NextAttemptAt) {
			return items[i].ID < items[j].ID
		}
		return items[i].NextAttemptAt.Before(items[j].NextAttemptAt)
	})
}
