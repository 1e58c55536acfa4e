package crypto

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/and161185/agent-keeper/internal/errs"
)

// fastParams keeps the KDF cheap in tests.
var fastParams = Params{MemoryKiB: 64, Time: 1, Parallelism: 1}

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal", n)
	}
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, pt := range []string{"", "{}", `{"email":"a@b.c","token":"secret"}`, "юникод ✓", strings.Repeat("x", 1<<16)} {
		enc, err := EncryptWithParams(pt, "correct horse", fastParams)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		got, err := Decrypt(enc, "correct horse")
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if got != pt {
			t.Fatalf("round trip mismatch for %d-byte input", len(pt))
		}
	}
}

func TestEncrypt_DefaultParamsAndPrefix(t *testing.T) {
	t.Parallel()

	enc, err := Encrypt("{}", "password123")
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if !strings.HasPrefix(enc, Prefix) {
		t.Fatalf("output %q lacks prefix", enc[:10])
	}
	env := decodeEnvelope(t, enc)
	if env.V != 1 || env.KDF != "argon2id" || env.MemoryKiB != DefaultParams.MemoryKiB || env.Time != DefaultParams.Time {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	got, err := Decrypt(enc, "password123")
	if err != nil || got != "{}" {
		t.Fatalf("Decrypt: %q, %v", got, err)
	}
}

func TestEncrypt_RejectsPasswordLength(t *testing.T) {
	t.Parallel()

	if _, err := Encrypt("{}", "short"); !errors.Is(err, errs.ErrInvalidPassword) {
		t.Fatalf("short password: err=%v", err)
	}
	if _, err := Encrypt("{}", strings.Repeat("p", 1025)); !errors.Is(err, errs.ErrInvalidPassword) {
		t.Fatalf("long password: err=%v", err)
	}
	if _, err := Decrypt("AAAA", ""); !errors.Is(err, errs.ErrInvalidPassword) {
		t.Fatalf("empty decrypt password: err=%v", err)
	}
}

func TestEncrypt_PayloadTooLarge(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("a", MaxPayload+1)
	if _, err := EncryptWithParams(big, "password123", fastParams); !errors.Is(err, errs.ErrPayloadTooLarge) {
		t.Fatalf("err=%v, want ErrPayloadTooLarge", err)
	}
}

func TestDecrypt_TamperedCiphertextFails(t *testing.T) {
	t.Parallel()

	enc, err := EncryptWithParams("sensitive", "password123", fastParams)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	env := decodeEnvelope(t, enc)
	ct, _ := base64.StdEncoding.DecodeString(env.Ciphertext)

	for i := range ct {
		mut := append([]byte(nil), ct...)
		mut[i] ^= 0x01
		env.Ciphertext = base64.StdEncoding.EncodeToString(mut)
		if _, err := Decrypt(encodeEnvelope(t, env), "password123"); !errors.Is(err, errs.ErrInvalidEnvelope) {
			t.Fatalf("flip byte %d: err=%v", i, err)
		}
	}
}

func TestDecrypt_WrongPasswordMatchesGarbledEnvelope(t *testing.T) {
	t.Parallel()

	enc, err := EncryptWithParams("sensitive", "password123", fastParams)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	_, wrongPw := Decrypt(enc, "password124")
	_, garbled := Decrypt(Prefix+"!!!", "password123")
	if !errors.Is(wrongPw, errs.ErrInvalidEnvelope) || !errors.Is(garbled, errs.ErrInvalidEnvelope) {
		t.Fatalf("wrongPw=%v garbled=%v", wrongPw, garbled)
	}
	if wrongPw.Error() != garbled.Error() {
		t.Fatalf("messages differ: %q vs %q", wrongPw, garbled)
	}
}

func TestDecrypt_EnvelopeValidation(t *testing.T) {
	t.Parallel()

	enc, err := EncryptWithParams("x", "password123", fastParams)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	base := decodeEnvelope(t, enc)

	cases := []struct {
		name string
		mut  func(e *envelope)
		want error
	}{
		{"version", func(e *envelope) { e.V = 2 }, errs.ErrUnsupportedVersion},
		{"kdf", func(e *envelope) { e.KDF = "scrypt" }, errs.ErrUnsupportedVersion},
		{"nonce length", func(e *envelope) { e.Nonce = base64.StdEncoding.EncodeToString(make([]byte, 12)) }, errs.ErrInvalidEnvelope},
		{"salt length", func(e *envelope) { e.Salt = base64.StdEncoding.EncodeToString(make([]byte, 8)) }, errs.ErrInvalidEnvelope},
		{"memory cost", func(e *envelope) { e.MemoryKiB = maxMemoryKiB + 1 }, errs.ErrInvalidEnvelope},
		{"time cost", func(e *envelope) { e.Time = 0 }, errs.ErrInvalidEnvelope},
		{"parallelism", func(e *envelope) { e.Parallelism = 0 }, errs.ErrInvalidEnvelope},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := base
			tc.mut(&env)
			if _, err := Decrypt(encodeEnvelope(t, env), "password123"); !errors.Is(err, tc.want) {
				t.Fatalf("err=%v, want %v", err, tc.want)
			}
		})
	}
}

func TestDecrypt_Legacy(t *testing.T) {
	t.Parallel()

	pt := `[{"filename":"a@b.c.json"}]`
	pw := "pw"
	raw := []byte(pt)
	xorCycle(raw, []byte(pw))
	legacy := base64.StdEncoding.EncodeToString(raw)

	got, err := Decrypt(legacy, pw)
	if err != nil {
		t.Fatalf("Decrypt legacy: %v", err)
	}
	if got != pt {
		t.Fatalf("got %q, want %q", got, pt)
	}
}

func TestDecrypt_LegacyInvalidUTF8(t *testing.T) {
	t.Parallel()

	raw := []byte{0xff ^ 'k', 0xfe ^ 'k'}
	if _, err := Decrypt(base64.StdEncoding.EncodeToString(raw), "k"); !errors.Is(err, errs.ErrCorruptedLegacyData) {
		t.Fatalf("err=%v, want ErrCorruptedLegacyData", err)
	}
}

func TestLoadOrCreateKey(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "control.key")
	k1, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(k1) != ControlKeyLen {
		t.Fatalf("len=%d", len(k1))
	}
	st, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if st.Mode().Perm() != 0o600 {
		t.Fatalf("mode=%v", st.Mode().Perm())
	}
	k2, err := LoadOrCreateKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !bytes.Equal(k1, k2) {
		t.Fatalf("key changed between loads")
	}

	if err := os.WriteFile(path, []byte("short"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadOrCreateKey(path); err == nil {
		t.Fatalf("expected error for truncated key file")
	}
}

func decodeEnvelope(t *testing.T, s string) envelope {
	t.Helper()
	body, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, Prefix))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("json: %v", err)
	}
	return env
}

func encodeEnvelope(t *testing.T, env envelope) string {
	t.Helper()
	body, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("json: %v", err)
	}
	return Prefix + base64.StdEncoding.EncodeToString(body)
}
