// Package hashid derives the deterministic, content-addressed ids this
// store uses for chunk leaves and (optionally) obfuscated paths. Hashing is
// xxhash64, rendered in base-36 to keep ids short and URL-safe.
package hashid

import (
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/docsync/docsync/pkg/model"
)

// PieceHash computes the xxhash64 of a chunk's bytes, salted with its
// length and (if set) the store's passphrase:
//
//	xxhash64(piece + "-" + length)                          // no passphrase
//	xxhash64(piece + "-" + passphrase + "-" + length)       // with passphrase
//
// The result is rendered in base-36.
func PieceHash(piece []byte, passphrase string) string {
	h := xxhash.New()
	h.Write(piece)
	h.Write([]byte("-"))
	if passphrase != "" {
		h.Write([]byte(passphrase))
		h.Write([]byte("-"))
	}
	h.Write([]byte(strconv.Itoa(len(piece))))
	return strconv.FormatUint(h.Sum64(), 36)
}

// LeafID builds the document id for a chunk leaf from its piece hash.
// Encrypted leaves (non-empty passphrase) carry PrefixEncryptedChunk;
// plaintext leaves carry PrefixChunk.
func LeafID(piece []byte, passphrase string) model.DocumentID {
	hash := PieceHash(piece, passphrase)
	if passphrase != "" {
		return model.DocumentID(model.PrefixEncryptedChunk + hash)
	}
	return model.DocumentID(model.PrefixChunk + hash)
}

// IsEncryptedLeafID reports whether id is a chunk leaf id produced under a
// passphrase.
func IsEncryptedLeafID(id model.DocumentID) bool {
	return strings.HasPrefix(string(id), model.PrefixEncryptedChunk)
}

// IsLeafID reports whether id names a chunk leaf (encrypted or not).
func IsLeafID(id model.DocumentID) bool {
	return strings.HasPrefix(string(id), model.PrefixChunk)
}

// PathID derives the document id for a file's metadata entry. With an
// obfuscate passphrase configured, the id is a deterministic salted hash of
// the path (PrefixObfuscated-prefixed) so the cleartext path never appears
// on the wire; otherwise the path is used as-is, since it's already a
// legitimate document id shape for this store's metadata entries.
func PathID(path model.FilePath, obfuscatePassphrase string) model.DocumentID {
	if obfuscatePassphrase == "" {
		return model.DocumentID(path)
	}
	h := xxhash.New()
	h.Write([]byte(path))
	h.Write([]byte("-"))
	h.Write([]byte(obfuscatePassphrase))
	h.Write([]byte("-" + model.SaltOfPassphrase))
	return model.DocumentID(model.PrefixObfuscated + strconv.FormatUint(h.Sum64(), 36))
}
