// Package auth generates and verifies the API keys that guard the settings API.
//
// A key is shown once as netcap_<prefix>_<secret>. Only the prefix and a
// SHA-256 hash of the secret are stored.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	keyPrefix    = "netcap"
	prefixLength = 12
	secretBytes  = 32
)

var ErrInvalidKeyFormat = errors.New("invalid API key format")

// Key is a freshly generated API key. Display is never stored.
type Key struct {
	Display string
	Prefix  string
	Hash    []byte
}

// NewKey generates a random API key.
func NewKey() (Key, error) {
	raw := make([]byte, prefixLength)
	if _, err := rand.Read(raw); err != nil {
		return Key{}, fmt.Errorf("read random prefix: %w", err)
	}
	for i := range raw {
		raw[i] = lowerAlnum[int(raw[i])%len(lowerAlnum)]
	}
	prefix := string(raw)

	secretRaw := make([]byte, secretBytes)
	if _, err := rand.Read(secretRaw); err != nil {
		return Key{}, fmt.Errorf("read random secret: %w", err)
	}
	secret := encodeBase62(secretRaw)

	return Key{
		Display: keyPrefix + "_" + prefix + "_" + secret,
		Prefix:  prefix,
		Hash:    HashSecret(secret),
	}, nil
}

func HashSecret(secret string) []byte {
	h := sha256.Sum256([]byte(secret))
	return h[:]
}

// Verify reports whether display matches a stored secret hash.
func Verify(display string, storedHash []byte) bool {
	_, secret, err := Parse(display)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(HashSecret(secret), storedHash) == 1
}

// Parse splits a displayed key into its lookup prefix and secret.
func Parse(display string) (prefix, secret string, err error) {
	rest, ok := strings.CutPrefix(display, keyPrefix+"_")
	if !ok {
		return "", "", ErrInvalidKeyFormat
	}
	prefix, secret, ok = strings.Cut(rest, "_")
	if !ok || secret == "" || len(prefix) != prefixLength {
		return "", "", ErrInvalidKeyFormat
	}
	for _, c := range prefix {
		if !strings.ContainsRune(string(lowerAlnum), c) {
			return "", "", ErrInvalidKeyFormat
		}
	}
	return prefix, secret, nil
}

var lowerAlnum = []byte("abcdefghijklmnopqrstuvwxyz0123456789")

const base62Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

func encodeBase62(data []byte) string {
	num := new(big.Int).SetBytes(data)
	base := big.NewInt(62)
	mod := new(big.Int)
	var out []byte

	for num.Sign() > 0 {
		num.DivMod(num, base, mod)
		out = append(out, base62Alphabet[mod.Int64()])
	}
	// leading zero bytes
	for _, b := range data {
		if b != 0 {
			break
		}
		out = append(out, '0')
	}
	if len(out) == 0 {
		return "0"
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return string(out)
}
