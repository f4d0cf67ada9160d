// Package model defines the wire-level document shapes shared between the
// Store Core, the Remote Adapter, and the change-feed reader.
package model

// DocumentID is the opaque remote document id derived from a FilePath.
// Chunk leaves carry the PrefixChunk ("h:") or PrefixEncryptedChunk ("h:+")
// prefix; everything else is a metadata or reserved-id document.
type DocumentID string

// FilePath is the logical path of a file as seen by the caller. It is kept
// as a distinct type from DocumentID so the two can never be swapped by
// accident — the mapping between them is bijective only under a given
// obfuscation configuration, never the identity mapping.
type FilePath string

// Kind discriminates the tagged union of documents this store produces and
// consumes. Unknown kinds (anything the remote holds that this store didn't
// write) are treated as opaque and skipped by enumeration.
type Kind string

const (
	KindNewNote Kind = "newnote"
	KindPlain   Kind = "plain"
	KindLeaf    Kind = "leaf"
)

// IsMetadata reports whether k identifies a metadata entry (as opposed to a
// leaf or a reserved/unknown document).
func (k Kind) IsMetadata() bool {
	return k == KindNewNote || k == KindPlain
}

const (
	// PrefixObfuscated marks a FilePath-derived id whose path text is
	// encrypted under the obfuscate passphrase.
	PrefixObfuscated = "f:"
	// PrefixChunk marks a leaf entry holding an unencrypted chunk payload.
	PrefixChunk = "h:"
	// PrefixEncryptedChunk marks a leaf entry holding an encrypted payload.
	PrefixEncryptedChunk = "h:+"
	// SaltOfPassphrase is mixed into every passphrase-derived hash and key.
	SaltOfPassphrase = "rHGMPtr6oWw7VSa3W3wpa8fT8U"
	// Version is the document format token written onto every entry this
	// store produces.
	Version = 10
	// MaxDocSizeBin bounds a leaf's pre-base64 payload size and anchors the
	// chunker's piece-size policy.
	MaxDocSizeBin = 102400
)

// Reserved document ids this store must never produce as a leaf or metadata
// entry, since the host database reserves them for system bookkeeping.
const (
	ReservedVersionID   DocumentID = "obsydian_livesync_version"
	ReservedMilestoneID DocumentID = "_local/obsydian_livesync_milestone"
	ReservedNodeInfoID  DocumentID = "_local/obsydian_livesync_nodeinfo"
	ReservedSyncInfoID  DocumentID = "syncinfo"
)

// IsReserved reports whether id collides with a reserved system document.
func IsReserved(id DocumentID) bool {
	switch id {
	case ReservedVersionID, ReservedMilestoneID, ReservedNodeInfoID, ReservedSyncInfoID:
		return true
	default:
		return false
	}
}

// MetaEntry is the metadata document for a logical file: its path, ordered
// chunk references, and timestamps. Children is reconstituted in order —
// concatenating the referenced leaves' payloads yields the original bytes.
type MetaEntry struct {
	ID       DocumentID   `json:"_id"`
	Rev      string       `json:"_rev,omitempty"`
	Type     Kind         `json:"type"`
	Path     string       `json:"path"`
	Children []DocumentID `json:"children"`
	CTime    int64        `json:"ctime"`
	MTime    int64        `json:"mtime"`
	Size     int          `json:"size"`
	Deleted  bool         `json:"deleted,omitempty"`
}

// LeafEntry is a single content-addressed chunk document. Data is either the
// raw piece text or its encrypted form, depending on whether ID carries
// PrefixEncryptedChunk.
type LeafEntry struct {
	ID          DocumentID `json:"_id"`
	Rev         string     `json:"_rev,omitempty"`
	Type        Kind       `json:"type"`
	Data        string     `json:"data"`
	IsCorrupted bool       `json:"isCorrupted,omitempty"`
}

// LoadedEntry is a MetaEntry whose children have been resolved and
// concatenated into Data. It's what Store.Get returns for a full (non
// meta-only) read.
type LoadedEntry struct {
	MetaEntry
	Data []byte
}
