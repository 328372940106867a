package signature

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newKey(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	require.NoError(t, err)
	return pub, priv
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv := newKey(t)
	msg := []byte(`{"action":"mint_badge","expiry":1,"nonce":"n","params":{},"user":"0x1"}`)

	sig := Sign(msg, priv)
	assert.True(t, Verify(msg, sig, EncodeHex(pub)))

	// prefix is optional
	assert.True(t, Verify(msg, strings.TrimPrefix(sig, "0x"), hex.EncodeToString(pub)))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	pub, priv := newKey(t)
	sig := Sign([]byte("original"), priv)

	assert.False(t, Verify([]byte("tampered"), sig, EncodeHex(pub)))
}

func TestVerifyRejectsWrongKey(t *testing.T) {
	_, priv := newKey(t)
	other, _ := newKey(t)
	msg := []byte("hello")

	assert.False(t, Verify(msg, Sign(msg, priv), EncodeHex(other)))
}

func TestVerifyFailsClosedOnMalformedInput(t *testing.T) {
	pub, priv := newKey(t)
	msg := []byte("hello")
	sig := Sign(msg, priv)
	pubHex := EncodeHex(pub)

	tests := []struct {
		name string
		sig  string
		key  string
	}{
		{"empty signature", "", pubHex},
		{"empty key", sig, ""},
		{"odd length signature", sig[:len(sig)-1], pubHex},
		{"non-hex signature", "0x" + strings.Repeat("zz", 64), pubHex},
		{"short key", sig, pubHex[:20]},
		{"truncated signature", sig[:66], pubHex},
		{"oversized key", sig, pubHex + "00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, Verify(msg, tt.sig, tt.key))
			})
		})
	}
}

func TestDeriveAddressIsStable(t *testing.T) {
	pub, _ := newKey(t)

	addr := DeriveAddress(pub)
	assert.Equal(t, addr, DeriveAddress(pub))
	assert.True(t, strings.HasPrefix(addr, "0x"))
	assert.Len(t, addr, 66)
}

func TestKeyMatchesAddress(t *testing.T) {
	pub, _ := newKey(t)
	other, _ := newKey(t)
	addr := DeriveAddress(pub)

	assert.True(t, KeyMatchesAddress(EncodeHex(pub), addr))
	assert.True(t, KeyMatchesAddress(EncodeHex(pub), strings.ToUpper(strings.TrimPrefix(addr, "0x"))))
	assert.False(t, KeyMatchesAddress(EncodeHex(other), addr))
	assert.False(t, KeyMatchesAddress("0xnothex", addr))
	assert.False(t, KeyMatchesAddress(EncodeHex(pub), "0xCAFE"))
}
