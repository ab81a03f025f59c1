package plugin

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
)

// configHash fingerprints a plugin's config block so a reload only calls
// OnConfigChange, and only lifts a quarantine, when the settings actually
// differ. A missing block, null and {} all decode to the zero config and
// share hash 0. Formatting and key order do not count as a change; a block
// that is not valid JSON is fingerprinted byte for byte so editing it still
// registers.
func configHash(raw json.RawMessage) uint64 {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return fnv64(trimmed)
	}
	if m, ok := v.(map[string]any); v == nil || (ok && len(m) == 0) {
		return 0
	}
	// encoding/json sorts map keys, so the re-encoded form is canonical.
	canon, err := json.Marshal(v)
	if err != nil {
		return fnv64(trimmed)
	}
	return fnv64(canon)
}

func fnv64(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}
