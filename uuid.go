package gobbledegook

import (
	"fmt"
	"strings"

	guuid "github.com/google/uuid"
)

// baseUUIDSuffix is the tail of the Bluetooth base UUID into which 16-bit
// short forms are folded.
const baseUUIDSuffix = "-0000-1000-8000-00805F9B34FB"

// UUID is a Bluetooth UUID held in canonical uppercase hyphenated form.
type UUID struct {
	s string
}

// ParseUUID normalizes a Bluetooth UUID. A 4-hex-digit short form such as
// "180A" is expanded onto the Bluetooth base UUID; a long form is accepted
// as-is and normalized to uppercase hyphenated form.
func ParseUUID(s string) (UUID, error) {
	if len(s) == 4 {
		if _, err := guuid.Parse("0000" + s + baseUUIDSuffix); err != nil {
			return UUID{}, fmt.Errorf("invalid short UUID %q: %v", s, err)
		}
		return UUID{"0000" + strings.ToUpper(s) + baseUUIDSuffix}, nil
	}

	u, err := guuid.Parse(s)
	if err != nil {
		return UUID{}, fmt.Errorf("invalid UUID %q: %v", s, err)
	}
	return UUID{strings.ToUpper(u.String())}, nil
}

// MustParseUUID is ParseUUID for UUIDs known at compile time; it panics on a
// malformed input.
func MustParseUUID(s string) UUID {
	u, err := ParseUUID(s)
	if err != nil {
		panic(err)
	}
	return u
}

// String returns the canonical uppercase hyphenated form.
func (u UUID) String() string { return u.s }

// IsZero reports whether u is the zero UUID value.
func (u UUID) IsZero() bool { return u.s == "" }

// Bytes returns the 128-bit value of the UUID.
func (u UUID) Bytes() [16]byte {
	parsed, err := guuid.Parse(u.s)
	if err != nil {
		return [16]byte{}
	}
	return parsed
}

// Equal reports whether two UUIDs carry the same 128-bit value.
func (u UUID) Equal(v UUID) bool { return u.s == v.s }
