// Package pagination implements opaque keyset cursors for ledger history
// reads. Cursors carry the (created_at, id) pair of the last row served so
// pages stay stable while new entries are appended.
package pagination

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	// DefaultLimit is the page size used when the caller does not ask for one.
	DefaultLimit = 25
	// MaxLimit bounds a single page of ledger entries.
	MaxLimit = 100
)

// Params carries the page size and the opaque cursor taken from the request.
type Params struct {
	Limit  int
	Cursor string
}

// Cursor is the decoded keyset position. ID breaks ties between entries
// written in the same instant.
type Cursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// NormalizeLimit clamps a requested page size into [1, MaxLimit], substituting
// DefaultLimit for zero or negative values.
func NormalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}

// LimitWithBuffer is the normalized limit plus one sentinel row. The extra
// row tells the repository whether a further page exists.
func LimitWithBuffer(limit int) int {
	return NormalizeLimit(limit) + 1
}

// EncodeCursor serializes the keyset position into the opaque string handed
// to API clients.
func EncodeCursor(cursor Cursor) string {
	raw := cursor.CreatedAt.UTC().Format(time.RFC3339Nano) + "|" + cursor.ID.String()
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// ParseCursor reverses EncodeCursor. An empty value means "first page" and
// yields a nil cursor without error; anything else that fails to decode is
// rejected so a mangled cursor cannot silently restart the listing.
func ParseCursor(value string) (*Cursor, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}

	raw, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		return nil, fmt.Errorf("decode cursor: %w", err)
	}
	ts, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, fmt.Errorf("cursor is missing its separator")
	}

	createdAt, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return nil, fmt.Errorf("cursor timestamp: %w", err)
	}
	entryID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("cursor entry id: %w", err)
	}
	return &Cursor{CreatedAt: createdAt, ID: entryID}, nil
}
