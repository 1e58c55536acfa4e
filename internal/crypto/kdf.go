// Package crypto implements the password-protected backup envelope and the
// key material helpers used by the control API.
package crypto

import (
	"crypto/rand"

	"golang.org/x/crypto/argon2"
)

// Params are the Argon2id cost parameters recorded in every envelope.
type Params struct {
	MemoryKiB   uint32
	Time        uint32
	Parallelism uint8
}

// DefaultParams are used by Encrypt.
var DefaultParams = Params{
	MemoryKiB:   64 * 1024, // 64 MB
	Time:        3,
	Parallelism: 1,
}

const (
	keyLen  = 32
	saltLen = 16

	maxMemoryKiB = 1 << 20 // 1 GiB
	maxTime      = 16
)

func (p Params) valid() bool {
	return p.MemoryKiB >= 8*uint32(p.Parallelism) && p.MemoryKiB <= maxMemoryKiB &&
		p.Time >= 1 && p.Time <= maxTime &&
		p.Parallelism >= 1
}

// RandBytes returns n cryptographically secure random bytes.
func RandBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	_, err := rand.Read(b)
	return b, err
}

func deriveKey(password, salt []byte, p Params) []byte {
	return argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Parallelism, keyLen)
}
