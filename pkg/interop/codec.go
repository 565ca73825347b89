package interop

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/famlabs/agentnode/pkg/crypto"
)

// Codec signs and verifies envelopes. The shared HMAC key is mandatory; the
// identity key pair is optional and enables the v2 signature.
type Codec struct {
	sharedKey []byte
	identity  *crypto.IdentityKeys
	directory *Directory
}

// NewCodec builds a codec. identity may be nil.
func NewCodec(sharedKey []byte, identity *crypto.IdentityKeys, directory *Directory) *Codec {
	return &Codec{sharedKey: sharedKey, identity: identity, directory: directory}
}

// Sign computes the primary HMAC signature over env's canonical body.
func (c *Codec) Sign(env *Envelope) (string, error) {
	body, err := env.CanonicalBody()
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}
	return crypto.SignHMAC(c.sharedKey, body), nil
}

// SignV2 computes the Ed25519 identity signature, or "" when this node has no
// identity key.
func (c *Codec) SignV2(env *Envelope) (string, error) {
	if c.identity == nil {
		return "", nil
	}
	body, err := env.CanonicalBody()
	if err != nil {
		return "", fmt.Errorf("canonicalize envelope: %w", err)
	}
	return c.identity.Sign(body), nil
}

// VerifyHMAC checks env's primary signature in constant time.
func (c *Codec) VerifyHMAC(env *Envelope) (bool, error) {
	body, err := env.CanonicalBody()
	if err != nil {
		return false, fmt.Errorf("canonicalize envelope: %w", err)
	}
	return crypto.VerifyHMAC(c.sharedKey, body, env.Signature), nil
}

// VerifyV2 checks the identity signature against the signer's published
// public key. Absent signature, absent signer key, or any decode failure all
// yield false; the identity mode decides whether false matters.
func (c *Codec) VerifyV2(env *Envelope) bool {
	sig := strings.TrimSpace(env.SignatureV2)
	signer := strings.TrimSpace(env.Signer)
	if signer == "" {
		signer = strings.TrimSpace(env.Source)
	}
	if sig == "" || signer == "" {
		return false
	}
	pubB64, err := c.directory.PublicKeyFor(signer)
	if err != nil || pubB64 == "" {
		return false
	}
	pubRaw, err := base64.StdEncoding.DecodeString(pubB64)
	if err != nil {
		return false
	}
	body, err := env.CanonicalBody()
	if err != nil {
		return false
	}
	return crypto.VerifyIdentity(pubRaw, body, sig)
}
