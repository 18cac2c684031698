package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// DeriveKey builds a cache key in the wallet:<address>:<family>[:<hash>]
// grammar. When params is non-empty its sorted-key JSON representation is
// hashed and appended, so equivalent parameter maps (regardless of
// insertion order) collide to the same key; an empty/nil params omits the
// hash segment entirely, keeping family-wide keys glob-able as
// "wallet:<address>:<family>*".
func DeriveKey(wallet, family string, params map[string]interface{}) string {
	key := "wallet:" + wallet + ":" + family
	if len(params) == 0 {
		return key
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]struct {
		Key   string      `json:"key"`
		Value interface{} `json:"value"`
	}, 0, len(keys))
	for _, k := range keys {
		ordered = append(ordered, struct {
			Key   string      `json:"key"`
			Value interface{} `json:"value"`
		}{Key: k, Value: params[k]})
	}

	raw, _ := json.Marshal(ordered)
	sum := sha256.Sum256(raw)
	return key + ":" + hex.EncodeToString(sum[:])
}
