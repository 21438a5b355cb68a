// Package roomid generates unique, sortable room identifiers: a UUIDv7
// encoded as a 26-character Crockford base32 string. The embedded
// millisecond timestamp keeps ids roughly ordered by creation time, and
// the random tail means ids are never reused.
package roomid

import (
	"crypto/rand"
	"fmt"
	"time"
)

const alphabet = "0123456789abcdefghjkmnpqrstvwxyz"

// RandSource lets tests inject deterministic randomness.
type RandSource interface {
	Intn(n int) int
}

// Generator produces room ids with configurable randomness.
type Generator struct {
	randSource RandSource
}

// NewGenerator creates a generator. A nil RandSource uses crypto/rand.
func NewGenerator(randSource RandSource) *Generator {
	return &Generator{randSource: randSource}
}

// Generate creates a new room id using crypto/rand.
func Generate() string {
	return NewGenerator(nil).Generate()
}

// Generate creates a new room id using the generator's RandSource.
func (g *Generator) Generate() string {
	return encodeBase32(g.newUUIDv7())
}

func (g *Generator) newUUIDv7() [16]byte {
	var uuid [16]byte

	now := time.Now().UnixMilli()
	uuid[0] = byte(now >> 40)
	uuid[1] = byte(now >> 32)
	uuid[2] = byte(now >> 24)
	uuid[3] = byte(now >> 16)
	uuid[4] = byte(now >> 8)
	uuid[5] = byte(now)

	if g.randSource != nil {
		for i := 6; i < 16; i++ {
			uuid[i] = byte(g.randSource.Intn(256))
		}
	} else {
		if _, err := rand.Read(uuid[6:]); err != nil {
			panic("roomid: failed to read random bytes: " + err.Error())
		}
	}

	// Version 7, variant 10.
	uuid[6] = (uuid[6] & 0x0f) | 0x70
	uuid[8] = (uuid[8] & 0x3f) | 0x80

	return uuid
}

// encodeBase32 encodes 128 bits as 26 base32 characters, 5 bits each.
func encodeBase32(data [16]byte) string {
	result := make([]byte, 26)

	for i := 0; i < 26; i++ {
		bitOffset := i * 5
		byteIndex := bitOffset / 8
		bitIndex := bitOffset % 8

		var value uint8
		if byteIndex < 16 {
			if bitIndex <= 3 {
				value = (data[byteIndex] >> (3 - bitIndex)) & 0x1f
			} else {
				value = (data[byteIndex] << (bitIndex - 3)) & 0x1f
				if byteIndex+1 < 16 {
					value |= data[byteIndex+1] >> (11 - bitIndex)
				}
			}
		}

		result[i] = alphabet[value]
	}

	return string(result)
}

// Validate checks that an id is 26 valid base32 characters.
func Validate(id string) error {
	if len(id) != 26 {
		return fmt.Errorf("room id must be exactly 26 characters, got %d", len(id))
	}

	// The first character encodes the top bits of the 128-bit value and
	// must not overflow it.
	if id[0] > '7' {
		return fmt.Errorf("room id first character must be 0-7, got %c", id[0])
	}

	for i, char := range id {
		valid := false
		for _, validChar := range alphabet {
			if char == validChar {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid character %c at position %d", char, i)
		}
	}

	return nil
}
