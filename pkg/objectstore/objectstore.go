// Package objectstore archives uploaded filing documents so the original
// source bytes remain auditable after import.
package objectstore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Store persists raw uploaded documents and returns a stable URI that is
// recorded on the filing as source_url.
type Store interface {
	// Put writes data under objectName and returns the URI of the stored object.
	Put(ctx context.Context, objectName string, data []byte) (string, error)
	// Fetch reads back the bytes at a URI previously returned by Put.
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// ObjectName builds a collision-resistant object name from the upload
// filename and the document fingerprint. The fingerprint prefix keeps
// re-uploads of the same document at the same location.
func ObjectName(filename, fingerprint string) string {
	base := strings.ToLower(strings.TrimSpace(filename))
	base = strings.ReplaceAll(base, " ", "_")
	if base == "" {
		base = "upload"
	}
	if len(fingerprint) >= 12 {
		fingerprint = fingerprint[:12]
	}
	return fmt.Sprintf("filings/%s/%s/%s", time.Now().UTC().Format("2006/01"), fingerprint, base)
}
