package interop

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/famlabs/agentnode/pkg/crypto"
)

func testCodec(t *testing.T) *Codec {
	t.Helper()
	d := writeDirectory(t, directoryYAML)
	return NewCodec([]byte("shared-test-key"), nil, d)
}

func signedEnvelope(t *testing.T, c *Codec, env Envelope) Envelope {
	t.Helper()
	sig, err := c.Sign(&env)
	require.NoError(t, err)
	env.Signature = sig
	return env
}

func TestSignVerify_RoundTrip(t *testing.T) {
	c := testCodec(t)
	env := signedEnvelope(t, c, Envelope{
		Source:    "jason",
		Target:    "scarlet",
		TaskType:  "skills_checkin",
		Payload:   map[string]any{"question": "hi", "n": float64(3)},
		Nonce:     "00112233445566778899aabbccddeeff",
		Timestamp: 1700000000,
	})

	ok, err := c.VerifyHMAC(&env)
	require.NoError(t, err)
	assert.True(t, ok)

	// Any change to a signed field invalidates the signature.
	tampered := env
	tampered.Payload = map[string]any{"question": "hi!", "n": float64(3)}
	ok, err = c.VerifyHMAC(&tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	tampered = env
	tampered.Timestamp++
	ok, err = c.VerifyHMAC(&tampered)
	require.NoError(t, err)
	assert.False(t, ok)

	wrongKey := NewCodec([]byte("other-key"), nil, nil)
	ok, err = wrongKey.VerifyHMAC(&env)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignVerify_Property(t *testing.T) {
	c := testCodec(t)
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 200
	properties := gopter.NewProperties(params)

	envGen := gopter.CombineGens(
		gen.AlphaString(), gen.AlphaString(), gen.AlphaString(),
		gen.AnyString(), gen.Int64Range(0, 1<<40),
	).Map(func(vs []any) Envelope {
		return Envelope{
			Source:    "n-" + vs[0].(string),
			Target:    "n-" + vs[1].(string),
			TaskType:  "t-" + vs[2].(string),
			Payload:   map[string]any{"text": vs[3].(string)},
			Nonce:     "00112233445566778899aabbccddeeff",
			Timestamp: vs[4].(int64),
		}
	})

	properties.Property("signed envelopes verify", prop.ForAll(
		func(env Envelope) bool {
			sig, err := c.Sign(&env)
			if err != nil {
				return false
			}
			env.Signature = sig
			ok, err := c.VerifyHMAC(&env)
			return err == nil && ok
		}, envGen))

	properties.Property("mutating the nonce breaks the signature", prop.ForAll(
		func(env Envelope) bool {
			sig, err := c.Sign(&env)
			if err != nil {
				return false
			}
			env.Signature = sig
			env.Nonce = "ff112233445566778899aabbccddeeff"
			ok, err := c.VerifyHMAC(&env)
			return err == nil && !ok
		}, envGen))

	properties.TestingRun(t)
}

func TestVerifyV2(t *testing.T) {
	secretsDir := t.TempDir()
	keys, err := crypto.LoadOrGenerateIdentity(secretsDir)
	require.NoError(t, err)

	dirYAML := "nodes:\n  jason-core:\n    host: hub.local\n    profile: jason\n" +
		"    signing_public_key: " + keys.PublicKeyB64() + "\n"
	path := filepath.Join(t.TempDir(), "nodes.yaml")
	require.NoError(t, os.WriteFile(path, []byte(dirYAML), 0o644))
	directory := NewDirectory(path, "scarlet")

	signerCodec := NewCodec([]byte("shared-test-key"), keys, directory)
	verifier := NewCodec([]byte("shared-test-key"), nil, directory)

	env := signedEnvelope(t, signerCodec, Envelope{
		Source:    "jason",
		Target:    "scarlet",
		TaskType:  "ping",
		Payload:   map[string]any{},
		Nonce:     "00112233445566778899aabbccddeeff",
		Timestamp: 1700000000,
	})
	v2, err := signerCodec.SignV2(&env)
	require.NoError(t, err)
	env.Signer = "jason"
	env.SignatureV2 = v2
	env.SignatureV2Alg = "ed25519"

	assert.True(t, verifier.VerifyV2(&env))

	// Signer with no published key.
	unknown := env
	unknown.Signer = "kiera"
	assert.False(t, verifier.VerifyV2(&unknown))

	// Corrupted signature.
	bad := env
	bad.SignatureV2 = "00" + bad.SignatureV2[2:]
	assert.False(t, verifier.VerifyV2(&bad))

	// No v2 at all.
	plain := env
	plain.SignatureV2 = ""
	assert.False(t, verifier.VerifyV2(&plain))
}

func TestDecodeEnvelope_Schema(t *testing.T) {
	valid := []byte(`{
		"source": "jason", "target": "scarlet", "task_type": "ping",
		"payload": {"a": 1},
		"nonce": "00112233445566778899aabbccddeeff",
		"timestamp": 1700000000,
		"signature": "` + sixtyFourHex + `"
	}`)
	env, err := DecodeEnvelope(valid)
	require.NoError(t, err)
	assert.Equal(t, "jason", env.Source)

	var schemaErr *SchemaError

	_, err = DecodeEnvelope([]byte(`{"source": "jason"}`))
	require.ErrorAs(t, err, &schemaErr)

	_, err = DecodeEnvelope([]byte(`not json`))
	require.ErrorAs(t, err, &schemaErr)

	// Uppercase nonce fails the hex pattern.
	badNonce := []byte(`{
		"source": "jason", "target": "scarlet", "task_type": "ping",
		"payload": {},
		"nonce": "00112233445566778899AABBCCDDEEFF",
		"timestamp": 1700000000,
		"signature": "` + sixtyFourHex + `"
	}`)
	_, err = DecodeEnvelope(badNonce)
	require.ErrorAs(t, err, &schemaErr)
}

const sixtyFourHex = "0000000000000000000000000000000000000000000000000000000000000000"
