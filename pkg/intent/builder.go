package intent

import (
	"crypto/ed25519"
	"time"

	"github.com/google/uuid"
	"github.com/speedrun-hq/speedrun-relayer/pkg/signature"
)

// DefaultLifetime is how long a freshly built intent stays valid
const DefaultLifetime = 5 * time.Minute

// NewNonce returns a random, unguessable nonce
func NewNonce() string {
	return uuid.NewString()
}

// NewPayload builds a payload for the user with a fresh nonce and the default lifetime
func NewPayload(action Action, params map[string]any, user string) Payload {
	return NewPayloadAt(action, params, user, time.Now())
}

// NewPayloadAt is NewPayload with an explicit creation time
func NewPayloadAt(action Action, params map[string]any, user string, now time.Time) Payload {
	copied := make(map[string]any, len(params))
	for k, v := range params {
		copied[k] = v
	}
	return Payload{
		Action: action,
		Params: copied,
		User:   user,
		Nonce:  NewNonce(),
		Expiry: now.Add(DefaultLifetime).Unix(),
	}
}

// Sign signs the canonical encoding of the payload with the user's key
func Sign(p Payload, privateKey ed25519.PrivateKey) (SignedIntent, error) {
	msg, err := Serialize(p)
	if err != nil {
		return SignedIntent{}, err
	}
	pub := privateKey.Public().(ed25519.PublicKey)
	return SignedIntent{
		Payload:   p,
		Signature: signature.Sign(msg, privateKey),
		PublicKey: signature.EncodeHex(pub),
	}, nil
}
