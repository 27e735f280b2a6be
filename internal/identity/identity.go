// Package identity defines the 32-byte account identifier used for users,
// the backend wallet, the vault authority and custodial accounts.
package identity

import (
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

// Size is the byte length of an Identity.
const Size = 32

// ErrInvalidIdentity is returned when text does not decode to a 32-byte identity.
var ErrInvalidIdentity = errors.New("invalid identity")

// Identity identifies a principal or a custodial account.
// The zero value is the null identity.
type Identity [Size]byte

// Zero is the null identity.
var Zero Identity

// Parse decodes a base58 identity.
func Parse(s string) (Identity, error) {
	var id Identity
	raw, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	if len(raw) != Size {
		return id, fmt.Errorf("%w: decoded %d bytes, want %d", ErrInvalidIdentity, len(raw), Size)
	}
	copy(id[:], raw)
	return id, nil
}

// FromBytes copies b into an Identity.
func FromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidIdentity, len(b), Size)
	}
	copy(id[:], b)
	return id, nil
}

// IsZero reports whether id is the null identity.
func (id Identity) IsZero() bool {
	return id == Zero
}

// String returns the base58 form.
func (id Identity) String() string {
	return base58.Encode(id[:])
}

// Short returns an abbreviated form for log lines.
func (id Identity) Short() string {
	s := id.String()
	if len(s) <= 8 {
		return s
	}
	return s[:4] + ".." + s[len(s)-4:]
}

func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
