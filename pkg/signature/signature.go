// Package signature verifies Ed25519 signatures over canonical intent bytes
// and binds public keys to account addresses.
package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// ed25519Scheme is the single-signer scheme byte appended before hashing a key into an address
const ed25519Scheme = 0x00

// DecodeHex decodes a hex string with an optional 0x prefix
func DecodeHex(s string) ([]byte, error) {
	clean := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

// EncodeHex encodes bytes as a 0x-prefixed lowercase hex string
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// VerifyBytes reports whether sig is a valid signature of message by publicKey.
// Wrong key or signature lengths fail verification.
func VerifyBytes(message, sig, publicKey []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(publicKey), message, sig)
}

// Verify decodes hex signature and key and verifies them against message.
// Malformed encodings fail closed.
func Verify(message []byte, signatureHex, publicKeyHex string) bool {
	sig, err := DecodeHex(signatureHex)
	if err != nil {
		return false
	}
	pub, err := DecodeHex(publicKeyHex)
	if err != nil {
		return false
	}
	return VerifyBytes(message, sig, pub)
}

// Sign signs message and returns the hex encoded signature
func Sign(message []byte, privateKey ed25519.PrivateKey) string {
	return EncodeHex(ed25519.Sign(privateKey, message))
}

// DeriveAddress returns the account address authenticated by an Ed25519 public key:
// SHA3-256(publicKey || scheme).
func DeriveAddress(publicKey []byte) string {
	h := sha3.New256()
	h.Write(publicKey)
	h.Write([]byte{ed25519Scheme})
	return EncodeHex(h.Sum(nil))
}

// KeyMatchesAddress reports whether the hex public key derives the given address.
// Addresses compare case-insensitively with leading zeros ignored.
func KeyMatchesAddress(publicKeyHex, address string) bool {
	pub, err := DecodeHex(publicKeyHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	return normalizeAddress(DeriveAddress(pub)) == normalizeAddress(address)
}

func normalizeAddress(address string) string {
	a := strings.ToLower(strings.TrimSpace(address))
	a = strings.TrimPrefix(a, "0x")
	a = strings.TrimLeft(a, "0")
	return a
}
