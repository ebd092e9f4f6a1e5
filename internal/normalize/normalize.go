// Package normalize derives canonical join keys for place names and
// geographic codes.
package normalize

import "strings"

// typeWords are the administrative-type suffixes the Census appends to a
// place name ("Burlington city", "Warner's Grant gore").
var typeWords = map[string]struct{}{
	"town":       {},
	"city":       {},
	"gore":       {},
	"grant":      {},
	"plantation": {},
	"village":    {},
}

// Name canonicalizes a place display name for joining: trims and
// lowercases, drops a ", <county>, <state>" suffix, and strips the
// trailing administrative-type word the Census inserts before that
// suffix. The type word is stripped only when the suffix was present:
// bare place names can legitimately end in one ("Warner's Grant"), and
// stripping unconditionally would make the key unstable under repeated
// normalization. Best-effort: two distinct places can collapse to the
// same key. Idempotent: Name(Name(x)) == Name(x).
func Name(raw string) string {
	s := strings.TrimSpace(raw)

	// "Burlington city, Chittenden County, Vermont" -> "Burlington city"
	hadSuffix := false
	if i := strings.IndexByte(s, ','); i >= 0 {
		s = s[:i]
		hadSuffix = true
	}

	fields := strings.Fields(s)
	if n := len(fields); hadSuffix && n > 1 {
		if _, ok := typeWords[strings.ToLower(fields[n-1])]; ok {
			fields = fields[:n-1]
		}
	}

	return strings.ToLower(strings.Join(fields, " "))
}

// GeoID builds the composite county-subdivision code (GEOID, summary
// level 060) from its hierarchical parts: state(2) + county(3) + cousub(5).
func GeoID(state, county, cousub string) string {
	return state + county + cousub
}
