package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	privateKeyFile   = "interop_signing_private_key.pem"
	publicKeyB64File = "interop_signing_public_key.b64"
)

// IdentityKeys holds a node's Ed25519 identity key pair.
type IdentityKeys struct {
	Private ed25519.PrivateKey
	Public  ed25519.PublicKey
}

// Sign returns the lowercase-hex Ed25519 signature of msg.
func (k *IdentityKeys) Sign(msg []byte) string {
	return hex.EncodeToString(ed25519.Sign(k.Private, msg))
}

// PublicKeyB64 returns the raw 32-byte public key, base64-encoded. This is the
// form peers publish in the node directory.
func (k *IdentityKeys) PublicKeyB64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}

// VerifyIdentity reports whether sigHex is a valid Ed25519 signature of msg
// under the raw public key pubRaw.
func VerifyIdentity(pubRaw []byte, msg []byte, sigHex string) bool {
	if len(pubRaw) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pubRaw), msg, sig)
}

// LoadOrGenerateIdentity loads the node identity key pair from secretsDir,
// generating and persisting a fresh pair when none exists. The private key is
// stored PEM-encoded (PKCS#8); the public key additionally as raw base64 so it
// can be copied into the node directory.
func LoadOrGenerateIdentity(secretsDir string) (*IdentityKeys, error) {
	privPath := filepath.Join(secretsDir, privateKeyFile)

	raw, err := os.ReadFile(privPath)
	switch {
	case err == nil:
		return parseIdentityPEM(raw)
	case os.IsNotExist(err):
		return generateIdentity(secretsDir)
	default:
		return nil, fmt.Errorf("read identity key: %w", err)
	}
}

// LoadIdentity loads an existing identity key pair, returning (nil, nil) when
// no private key file exists. Envelopes built without identity keys carry only
// the HMAC signature.
func LoadIdentity(secretsDir string) (*IdentityKeys, error) {
	raw, err := os.ReadFile(filepath.Join(secretsDir, privateKeyFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}
	return parseIdentityPEM(raw)
}

func parseIdentityPEM(raw []byte) (*IdentityKeys, error) {
	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("identity key: not PEM encoded")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("identity key: %w", err)
	}
	priv, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("identity key: not an Ed25519 key")
	}
	return &IdentityKeys{
		Private: priv,
		Public:  priv.Public().(ed25519.PublicKey),
	}, nil
}

func generateIdentity(secretsDir string) (*IdentityKeys, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("encode identity key: %w", err)
	}
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})
	if err := os.WriteFile(filepath.Join(secretsDir, privateKeyFile), pemBytes, 0o600); err != nil {
		return nil, fmt.Errorf("write identity key: %w", err)
	}
	b64 := base64.StdEncoding.EncodeToString(pub) + "\n"
	if err := os.WriteFile(filepath.Join(secretsDir, publicKeyB64File), []byte(b64), 0o644); err != nil {
		return nil, fmt.Errorf("write identity public key: %w", err)
	}
	return &IdentityKeys{Private: priv, Public: pub}, nil
}
