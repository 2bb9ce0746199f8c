// Package knol derives stable identities from note content, so the same
// note imported twice maps to the same id.
package knol

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
)

// idMask keeps ids within the integer range of a float64.
const idMask = 1<<53 - 1

// Normalize concatenates the note's content after cleaning each part.
// Tags do not take part: retagging a note keeps its identity.
func Normalize(n domain.Note) string {
	normalizePart := func(part string) string {
		p := strings.ToLower(part)
		p = strings.TrimSpace(p)
		return strings.ReplaceAll(p, "\r\n", "\n")
	}
	return strings.Join([]string{normalizePart(n.Question), normalizePart(n.Answer), normalizePart(n.Context)}, "\n")
}

func sum(n domain.Note) [sha256.Size]byte {
	return sha256.Sum256([]byte(Normalize(n)))
}

// Hash returns the SHA-256 of the normalized note as a hex string.
func Hash(n domain.Note) string {
	return fmt.Sprintf("%x", sum(n))
}

// NoteID returns a positive id taken from the first bytes of the hash.
func NoteID(n domain.Note) int64 {
	h := sum(n)
	return int64(binary.BigEndian.Uint64(h[:8]) & idMask)
}
