package crypto

import (
	"encoding/base64"
	"unicode/utf8"

	"github.com/and161185/agent-keeper/internal/errs"
)

// decryptLegacy reverses the old unauthenticated export format:
// base64 of the plaintext XORed with the password repeated cyclically.
// There is no encrypt counterpart.
func decryptLegacy(data string, pw []byte) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", errs.ErrCorruptedLegacyData
	}
	xorCycle(raw, pw)
	if !utf8.Valid(raw) {
		clear(raw)
		return "", errs.ErrCorruptedLegacyData
	}
	return string(raw), nil
}

func xorCycle(b, key []byte) {
	for i := range b {
		b[i] ^= key[i%len(key)]
	}
}
