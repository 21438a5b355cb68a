// Package identity canonicalizes player account addresses.
//
// Players identify themselves with a 40-hex-digit account address. Two
// textual casings of the same address are the same player; everything
// that indexes players does so through Address.Key.
package identity

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ErrInvalidAddress indicates the input is not a 40-hex-digit address.
var ErrInvalidAddress = errors.New("identity: invalid address")

// Address is the canonical checksum-cased form of an account address,
// always prefixed with 0x. The zero value means "no player".
type Address string

// Parse accepts an address in any casing, with or without the 0x prefix,
// and returns its canonical checksummed form.
func Parse(s string) (Address, error) {
	hexPart := s
	if strings.HasPrefix(hexPart, "0x") || strings.HasPrefix(hexPart, "0X") {
		hexPart = hexPart[2:]
	}
	if len(hexPart) != 40 {
		return "", fmt.Errorf("%w: want 40 hex digits, got %d", ErrInvalidAddress, len(hexPart))
	}

	lower := strings.ToLower(hexPart)
	for _, c := range lower {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return "", fmt.Errorf("%w: non-hex character %q", ErrInvalidAddress, c)
		}
	}

	return Address("0x" + checksum(lower)), nil
}

// MustParse is Parse for tests and static configuration.
func MustParse(s string) Address {
	addr, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// checksum applies the standard keccak casing rule: a hex letter is
// uppercased when the matching nibble of keccak256(lowercase address)
// is 8 or above.
func checksum(lower string) string {
	hash := sha3.NewLegacyKeccak256()
	hash.Write([]byte(lower))
	sum := hash.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if nibble&0x0f >= 8 {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}

// Key returns the case-insensitive form used for map keys. Differently
// cased inputs for one account always collapse to one key.
func (a Address) Key() string {
	return strings.ToLower(string(a))
}

func (a Address) String() string {
	return string(a)
}

// Equal reports whether two addresses identify the same account.
func (a Address) Equal(b Address) bool {
	return a.Key() == b.Key()
}

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool {
	return a == ""
}
