// Package canonical defines the normalized document every connector and
// upload path produces: a typed struct rendered into the deterministic
// <DOCUMENT> wrapper that is the unit of hashing and summarization.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// MetaFilePath is the metadata key carrying the original path of a
// file-based document. Ingest reads it to pick a code-aware chunker.
const MetaFilePath = "FILE_PATH"

// Document is the connector-independent form of one ingestable item.
// SourceID is the source-native identifier ("" when the source has none,
// e.g. raw extension pushes); it drives idempotent updates.
type Document struct {
	Title    string
	Type     string
	SourceID string
	Metadata map[string]string
	Body     string
}

func (d *Document) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("canonical document requires a type")
	}
	if strings.TrimSpace(d.Body) == "" {
		return fmt.Errorf("canonical document requires a non-empty body")
	}
	return nil
}

// Render produces the canonical wrapper. The byte layout is stable across
// runs and machines: metadata keys are sorted, every line ends in \n, and
// the wrapper tags carry no attributes. Hashes are computed over exactly
// this string, so any change here invalidates every stored content hash.
//
//	<DOCUMENT><METADATA>
//	KEY: value
//	</METADATA>
//	<CONTENT>
//	body
//	</CONTENT></DOCUMENT>
func (d *Document) Render() string {
	var b strings.Builder

	b.WriteString("<DOCUMENT><METADATA>\n")
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(": ")
		b.WriteString(d.Metadata[k])
		b.WriteString("\n")
	}
	b.WriteString("</METADATA>\n<CONTENT>\n")
	b.WriteString(strings.TrimSpace(d.Body))
	b.WriteString("\n</CONTENT></DOCUMENT>")

	return b.String()
}

// ContentHash is the dedupe identity: SHA-256 over the canonical text plus
// the owning search-space id, hex encoded.
func ContentHash(canonicalText, searchSpaceID string) string {
	sum := sha256.Sum256([]byte(canonicalText + searchSpaceID))
	return hex.EncodeToString(sum[:])
}

// UniqueIdentifierHash is the update identity for items with a stable
// source id: SHA-256 over (type, source id, search-space id). Returns ""
// when the document has no stable source id.
func UniqueIdentifierHash(docType, sourceID, searchSpaceID string) string {
	if sourceID == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(docType + "|" + sourceID + "|" + searchSpaceID))
	return hex.EncodeToString(sum[:])
}

// Hashes computes both identities for a rendered document.
func (d *Document) Hashes(searchSpaceID string) (contentHash, uniqueHash string) {
	contentHash = ContentHash(d.Render(), searchSpaceID)
	uniqueHash = UniqueIdentifierHash(d.Type, d.SourceID, searchSpaceID)
	return contentHash, uniqueHash
}
