package crypt_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docsync/docsync/internal/crypt"
)

func TestService_RoundTrip(t *testing.T) {
	for _, cfg := range []crypt.Config{
		{UseV1: true},
		{UseV1: false, UseDynamicIterationCount: false},
		{UseV1: false, UseDynamicIterationCount: true},
	} {
		svc := crypt.New(cfg)
		sealed, err := svc.Encrypt([]byte("hello, world!"), "correct-passphrase")
		require.NoError(t, err)

		plain, err := svc.Decrypt(sealed, "correct-passphrase")
		require.NoError(t, err)
		assert.Equal(t, "hello, world!", string(plain))
	}
}

func TestService_WrongPassphraseFails(t *testing.T) {
	svc := crypt.New(crypt.Config{})
	sealed, err := svc.Encrypt([]byte("secret"), "p1")
	require.NoError(t, err)

	_, err = svc.Decrypt(sealed, "p2")
	require.Error(t, err)
}

func TestService_CorruptEnvelopeFails(t *testing.T) {
	svc := crypt.New(crypt.Config{})
	_, err := svc.Decrypt("not-valid-base64-envelope-@@@", "p")
	require.Error(t, err)
}

func TestService_MixedModeInterop(t *testing.T) {
	// A document encrypted under V1 must still decrypt correctly once the
	// store's live config has moved on to the current dynamic mode — the
	// envelope tag carries enough information to reproduce the original
	// iteration count regardless of the store's current setting.
	legacy := crypt.New(crypt.Config{UseV1: true})
	sealed, err := legacy.Encrypt([]byte("old note"), "pw")
	require.NoError(t, err)

	current := crypt.New(crypt.Config{UseDynamicIterationCount: true})
	plain, err := current.Decrypt(sealed, "pw")
	require.NoError(t, err)
	assert.Equal(t, "old note", string(plain))
}
