package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"strings"
)

// FromBytes creates a fingerprint for an uploaded source file.
// Two byte-identical uploads always produce the same fingerprint.
func FromBytes(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// FromRows creates a deterministic fingerprint for tabular data.
// Cell order within a row and row order are both significant, so the
// same sheet parsed twice yields the same fingerprint regardless of
// which reader produced it.
func FromRows(headers []string, rows [][]string) string {
	h := sha256.New()
	writeRecord(h, headers)
	for _, row := range rows {
		writeRecord(h, row)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeRecord(h io.Writer, record []string) {
	for i, cell := range record {
		if i > 0 {
			io.WriteString(h, "\x1f")
		}
		// Escape the separators so shifted cell boundaries never collide.
		io.WriteString(h, strings.NewReplacer("\x1f", "\\x1f", "\x1e", "\\x1e").Replace(cell))
	}
	io.WriteString(h, "\x1e")
}

// HasChanged compares two fingerprints to detect a re-uploaded source.
func HasChanged(oldFingerprint, newFingerprint string) bool {
	return oldFingerprint != newFingerprint
}
