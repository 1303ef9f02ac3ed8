package admin

import "strings"

// FaultClass buckets a raw transport/vendor fault for the probe's handling.
type FaultClass int

const (
	// FaultUnknown is the explicit fallback: the text matched nothing in the
	// table and is surfaced verbatim for diagnostics.
	FaultUnknown FaultClass = iota

	// FaultTransient faults are retried exactly once after a fixed delay.
	FaultTransient

	// FaultAmbiguous faults mean the server may be mid-transition; they are
	// resolved by a process-table cross-check, never surfaced as hard errors.
	FaultAmbiguous
)

// String returns the fault class name.
func (f FaultClass) String() string {
	switch f {
	case FaultTransient:
		return "transient"
	case FaultAmbiguous:
		return "ambiguous"
	default:
		return "unknown"
	}
}

// faultTable is the exhaustive mapping of known vendor/transport error
// substrings. The admin endpoint reports faults as free text, so matching
// is by substring; anything not listed falls through to FaultUnknown.
//
// Order matters only in that the first match wins.
var faultTable = []struct {
	substr string
	class  FaultClass
}{
	{"i/o timeout", FaultTransient},
	{"connection timed out", FaultTransient},
	{"operation timed out", FaultTransient},
	{"connection reset", FaultTransient},
	{"broken pipe", FaultTransient},
	{"connection refused", FaultAmbiguous},
	{"not connected", FaultAmbiguous},
	{"no such file or directory", FaultAmbiguous}, // unix admin socket not yet created
}

// Classify maps a raw fault string to its class. This is the single place
// vendor error text is interpreted.
func Classify(raw string) FaultClass {
	lower := strings.ToLower(raw)
	for _, entry := range faultTable {
		if strings.Contains(lower, entry.substr) {
			return entry.class
		}
	}
	return FaultUnknown
}
