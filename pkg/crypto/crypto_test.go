package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHMAC_RoundTrip(t *testing.T) {
	key := []byte("shared-key")
	msg := []byte(`{"source":"scarlet","target":"kiera"}`)

	sig := SignHMAC(key, msg)
	assert.Len(t, sig, 64)
	assert.True(t, VerifyHMAC(key, msg, sig))
}

func TestHMAC_RejectsTamperedMessage(t *testing.T) {
	key := []byte("shared-key")
	sig := SignHMAC(key, []byte("hello"))
	assert.False(t, VerifyHMAC(key, []byte("hellp"), sig))
}

func TestHMAC_RejectsWrongKey(t *testing.T) {
	msg := []byte("hello")
	sig := SignHMAC([]byte("key-a"), msg)
	assert.False(t, VerifyHMAC([]byte("key-b"), msg, sig))
}

func TestIdentity_GenerateLoadSignVerify(t *testing.T) {
	dir := t.TempDir()

	keys, err := LoadOrGenerateIdentity(dir)
	require.NoError(t, err)
	require.NotNil(t, keys)

	// Second load must return the same key pair.
	again, err := LoadOrGenerateIdentity(dir)
	require.NoError(t, err)
	assert.Equal(t, keys.PublicKeyB64(), again.PublicKeyB64())

	msg := []byte("canonical envelope body")
	sig := keys.Sign(msg)
	assert.True(t, VerifyIdentity(keys.Public, msg, sig))
	assert.False(t, VerifyIdentity(keys.Public, []byte("other"), sig))
}

func TestLoadIdentity_MissingReturnsNil(t *testing.T) {
	keys, err := LoadIdentity(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, keys)
}

func TestVerifyIdentity_BadInputs(t *testing.T) {
	assert.False(t, VerifyIdentity([]byte("short"), []byte("msg"), "00"))

	keys, err := LoadOrGenerateIdentity(t.TempDir())
	require.NoError(t, err)
	assert.False(t, VerifyIdentity(keys.Public, []byte("msg"), "not-hex"))
}
