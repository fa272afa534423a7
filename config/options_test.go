package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/shinkai-node/crypto"
)

func TestLoadEphemeralKeysWhenUnset(t *testing.T) {
	dir := t.TempDir()
	os.Unsetenv("IDENTITY_SECRET_KEY")
	os.Unsetenv("ENCRYPTION_SECRET_KEY")

	opts, err := Load(dir)
	require.NoError(t, err)

	var zero [32]byte
	assert.NotEqual(t, zero, opts.IdentityPrivateKey)
	assert.NotEqual(t, zero, opts.EncryptionPrivateKey)
	assert.Equal(t, DefaultUploadIntervalMinutes, int(opts.UploadInterval.Minutes()))
}

func TestLoadFromEnvVar(t *testing.T) {
	dir := t.TempDir()
	keyPair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	encoded := crypto.EncodeBase58Key(keyPair.Private[:])

	t.Setenv("IDENTITY_SECRET_KEY", encoded)
	t.Setenv("ENCRYPTION_SECRET_KEY", encoded)
	t.Setenv("SUBSCRIPTION_HTTP_UPLOAD_INTERVAL_MINUTES", "15")

	opts, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, keyPair.Private, opts.IdentityPrivateKey)
	assert.Equal(t, 15, int(opts.UploadInterval.Minutes()))
}

func TestLoadFromSecretFile(t *testing.T) {
	dir := t.TempDir()
	os.Unsetenv("IDENTITY_SECRET_KEY")

	keyPair, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	encoded := crypto.EncodeBase58Key(keyPair.Private[:])
	require.NoError(t, os.WriteFile(dir+"/identity.secret", []byte(encoded), 0o600))

	opts, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, keyPair.Private, opts.IdentityPrivateKey)
}
