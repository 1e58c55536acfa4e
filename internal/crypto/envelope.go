package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/and161185/agent-keeper/internal/errs"
)

// Prefix marks the current envelope format.
const Prefix = "AGENC1:"

const (
	envelopeVersion = 1
	kdfName         = "argon2id"

	// MaxPayload caps plaintext accepted by Encrypt.
	MaxPayload = 5 << 20
	// maxEnvelope caps input accepted by Decrypt. Two base64 layers around a
	// MaxPayload plaintext stay well below it.
	maxEnvelope = 4 * MaxPayload

	minEncryptPassword = 8
	maxPassword        = 1024
)

type envelope struct {
	V           int    `json:"v"`
	KDF         string `json:"kdf"`
	MemoryKiB   uint32 `json:"m_cost_kib"`
	Time        uint32 `json:"t_cost"`
	Parallelism uint8  `json:"p_cost"`
	Salt        string `json:"salt_b64"`
	Nonce       string `json:"nonce_b64"`
	Ciphertext  string `json:"ct_b64"`
}

// Encrypt seals plaintext under password with DefaultParams.
func Encrypt(plaintext, password string) (string, error) {
	return EncryptWithParams(plaintext, password, DefaultParams)
}

// EncryptWithParams seals plaintext under password with the given KDF cost.
func EncryptWithParams(plaintext, password string, p Params) (string, error) {
	if len(password) < minEncryptPassword || len(password) > maxPassword {
		return "", fmt.Errorf("%w: must be %d to %d bytes", errs.ErrInvalidPassword, minEncryptPassword, maxPassword)
	}
	if len(plaintext) > MaxPayload {
		return "", errs.ErrPayloadTooLarge
	}
	if !p.valid() {
		return "", fmt.Errorf("invalid kdf params %+v", p)
	}

	pw := []byte(password)
	defer clear(pw)

	salt, err := RandBytes(saltLen)
	if err != nil {
		return "", err
	}
	nonce, err := RandBytes(chacha20poly1305.NonceSizeX)
	if err != nil {
		return "", err
	}
	key := deriveKey(pw, salt, p)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", err
	}
	ct := aead.Seal(nil, nonce, []byte(plaintext), nil)

	body, err := json.Marshal(envelope{
		V:           envelopeVersion,
		KDF:         kdfName,
		MemoryKiB:   p.MemoryKiB,
		Time:        p.Time,
		Parallelism: p.Parallelism,
		Salt:        base64.StdEncoding.EncodeToString(salt),
		Nonce:       base64.StdEncoding.EncodeToString(nonce),
		Ciphertext:  base64.StdEncoding.EncodeToString(ct),
	})
	if err != nil {
		return "", err
	}
	return Prefix + base64.StdEncoding.EncodeToString(body), nil
}

// Decrypt opens data produced by Encrypt, or by the legacy exporter when
// data carries no Prefix.
func Decrypt(data, password string) (string, error) {
	if len(password) == 0 || len(password) > maxPassword {
		return "", fmt.Errorf("%w: must be 1 to %d bytes", errs.ErrInvalidPassword, maxPassword)
	}
	if len(data) > maxEnvelope {
		return "", errs.ErrPayloadTooLarge
	}

	pw := []byte(password)
	defer clear(pw)

	data = strings.TrimSpace(data)
	if rest, ok := strings.CutPrefix(data, Prefix); ok {
		return openEnvelope(rest, pw)
	}
	return decryptLegacy(data, pw)
}

func openEnvelope(data string, pw []byte) (string, error) {
	body, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return "", errs.ErrInvalidEnvelope
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", errs.ErrInvalidEnvelope
	}
	if env.V != envelopeVersion || env.KDF != kdfName {
		return "", fmt.Errorf("%w: v=%d kdf=%q", errs.ErrUnsupportedVersion, env.V, env.KDF)
	}

	salt, err := base64.StdEncoding.DecodeString(env.Salt)
	if err != nil || len(salt) != saltLen {
		return "", errs.ErrInvalidEnvelope
	}
	nonce, err := base64.StdEncoding.DecodeString(env.Nonce)
	if err != nil || len(nonce) != chacha20poly1305.NonceSizeX {
		return "", errs.ErrInvalidEnvelope
	}
	ct, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil || len(ct) < chacha20poly1305.Overhead {
		return "", errs.ErrInvalidEnvelope
	}
	p := Params{MemoryKiB: env.MemoryKiB, Time: env.Time, Parallelism: env.Parallelism}
	if !p.valid() {
		return "", errs.ErrInvalidEnvelope
	}

	key := deriveKey(pw, salt, p)
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", errs.ErrInvalidEnvelope
	}
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil || !utf8.Valid(pt) {
		return "", errs.ErrInvalidEnvelope
	}
	return string(pt), nil
}
