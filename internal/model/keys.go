package model

import (
	"fmt"
	"hash/fnv"
)

// PositionKey derives the Vault's position map key from the position
// triple. External systems must be able to reproduce this exactly, so
// it is a plain deterministic hash of the formatted fields rather than
// anything relying on map iteration order or pointer identity.
func PositionKey(account, indexToken string, isLong bool) string {
	return hashFields(account, indexToken, fmt.Sprintf("%t", isLong))
}

// RequestKey derives a Market delayed-request key from the requesting
// account and its per-account monotonic request index.
func RequestKey(account string, index uint64) string {
	return hashFields(account, fmt.Sprintf("%d", index))
}

func hashFields(fields ...string) string {
	h := fnv.New64a()
	for _, f := range fields {
		h.Write([]byte(f))
		h.Write([]byte{0}) // separator to avoid field-concatenation collisions
	}
	return fmt.Sprintf("%016x", h.Sum64())
}
