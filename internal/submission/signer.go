package submission

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrSignatureDeclined is returned by a Signer when the reporter refuses to
// sign. Any other Signer error means the signing service could not be reached.
var ErrSignatureDeclined = errors.New("signature declined")

// Signer obtains the reporter's signature over the canonical payload.
type Signer interface {
	Identity() string
	Sign(ctx context.Context, message string) (string, error)
}

// Ed25519Signer is a local signing identity. It signs the Keccak-256 digest of
// the payload and reports an address-style identity derived from its key.
type Ed25519Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
	id   string
}

func NewEd25519Signer(seed []byte) (*Ed25519Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &Ed25519Signer{priv: priv, pub: pub, id: IdentityFromPublicKey(pub)}, nil
}

// NewEd25519SignerFromHex builds a signer from a hex seed, or a random one
// when seedHex is empty.
func NewEd25519SignerFromHex(seedHex string) (*Ed25519Signer, error) {
	if seedHex == "" {
		seed := make([]byte, ed25519.SeedSize)
		if _, err := rand.Read(seed); err != nil {
			return nil, fmt.Errorf("generate signer seed: %w", err)
		}
		return NewEd25519Signer(seed)
	}
	seed, err := hex.DecodeString(seedHex)
	if err != nil {
		return nil, fmt.Errorf("decode signer seed: %w", err)
	}
	return NewEd25519Signer(seed)
}

func (s *Ed25519Signer) Identity() string { return s.id }

func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.pub }

func (s *Ed25519Signer) Sign(ctx context.Context, message string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sig := ed25519.Sign(s.priv, Keccak256([]byte(message)))
	return hex.EncodeToString(sig), nil
}

// IdentityFromPublicKey derives the 0x-prefixed reporter identity: the last
// 20 bytes of the Keccak-256 of the public key.
func IdentityFromPublicKey(pub ed25519.PublicKey) string {
	sum := Keccak256(pub)
	return "0x" + hex.EncodeToString(sum[len(sum)-20:])
}

// VerifyEd25519 checks a hex signature produced by Ed25519Signer.
func VerifyEd25519(pub ed25519.PublicKey, message, signatureHex string) bool {
	sig, err := hex.DecodeString(signatureHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, Keccak256([]byte(message)), sig)
}
