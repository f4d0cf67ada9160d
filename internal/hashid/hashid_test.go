package hashid_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/docsync/docsync/internal/hashid"
	"github.com/docsync/docsync/pkg/model"
)

func TestLeafID_DeterministicAcrossCalls(t *testing.T) {
	piece := []byte("some chunk of content")

	a := hashid.LeafID(piece, "")
	b := hashid.LeafID(piece, "")
	assert.Equal(t, a, b)

	a = hashid.LeafID(piece, "secret")
	b = hashid.LeafID(piece, "secret")
	assert.Equal(t, a, b)
}

func TestLeafID_PrefixReflectsPassphrase(t *testing.T) {
	piece := []byte("some chunk of content")

	cases := []struct {
		name       string
		passphrase string
		wantPrefix string
	}{
		{"no passphrase", "", model.PrefixChunk},
		{"with passphrase", "secret", model.PrefixEncryptedChunk},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			id := hashid.LeafID(piece, tc.passphrase)
			assert.True(t, strings.HasPrefix(string(id), tc.wantPrefix))
		})
	}
}

func TestLeafID_DifferentPassphrasesDivergeEvenForEqualPrefix(t *testing.T) {
	piece := []byte("same content")

	plain := hashid.LeafID(piece, "")
	encrypted := hashid.LeafID(piece, "secret")
	assert.NotEqual(t, plain, encrypted)
	assert.True(t, strings.HasPrefix(string(encrypted), model.PrefixChunk))
}

func TestLeafID_DifferentContentDivergesHash(t *testing.T) {
	a := hashid.LeafID([]byte("content a"), "")
	b := hashid.LeafID([]byte("content b"), "")
	assert.NotEqual(t, a, b)
}
