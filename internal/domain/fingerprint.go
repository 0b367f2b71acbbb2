package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// FingerprintScope selects which FingerprintKey fields form the cache identity.
type FingerprintScope string

const (
	// ScopeSegment shares resolutions between driver-days visiting the same store pair.
	ScopeSegment FingerprintScope = "segment"
	// ScopeDriverDay isolates resolutions per driver and date.
	ScopeDriverDay FingerprintScope = "driver_day"
)

// FingerprintKey identifies a resolvable segment between two adjacent stops.
type FingerprintKey struct {
	DriverID      string
	Date          string
	OriginStoreID string
	DestStoreID   string
}

// NewFingerprintKey derives the key for the leg origin -> dest.
// Identical inputs always produce the identical key.
func NewFingerprintKey(origin, dest Stop) FingerprintKey {
	return FingerprintKey{
		DriverID:      origin.DriverID,
		Date:          origin.Day(),
		OriginStoreID: StoreIdentity(origin),
		DestStoreID:   StoreIdentity(dest),
	}
}

// String is the full stable serialization of the key.
func (k FingerprintKey) String() string {
	return joinKey(k.DriverID, k.Date, k.OriginStoreID, k.DestStoreID)
}

// CacheKey returns the persistence identity for the given scope.
func (k FingerprintKey) CacheKey(scope FingerprintScope) string {
	if scope == ScopeDriverDay {
		return k.String()
	}
	return joinKey(k.OriginStoreID, k.DestStoreID)
}

// StoreIdentity returns the store code or, when it is missing, a surrogate
// derived from the normalized name, then the raw address, then the rounded
// coordinates. Two stops at the same store without a code collide as long
// as the chosen field agrees.
func StoreIdentity(s Stop) string {
	if id := strings.TrimSpace(s.StoreID); id != "" {
		return id
	}
	if name := normalize(s.StoreName); name != "" {
		return surrogate("name", name)
	}
	if addr := normalize(s.Address); addr != "" {
		return surrogate("addr", addr)
	}
	return surrogate("coord", fmt.Sprintf("%.6f,%.6f", s.Location.Lat, s.Location.Lon))
}

// normalize collapses whitespace and case so equivalent spellings hash equally.
func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func surrogate(kind, value string) string {
	sum := sha256.Sum256([]byte(kind + ":" + value))
	return "sur-" + hex.EncodeToString(sum[:8])
}

func joinKey(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = strings.ReplaceAll(p, "|", `\|`)
	}
	return strings.Join(escaped, "|")
}
