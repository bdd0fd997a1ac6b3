// Package pagination implements opaque keyset cursors for list
// endpoints that page over (created_at, id) ordered rows, such as the
// wallet audit trail.
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalid is returned for cursors the server did not mint.
var ErrInvalid = errors.New("invalid cursor")

// Cursor is the position after which the next page resumes. Rows are
// ordered newest first, so the next page holds rows strictly older
// than (CreatedAt, ID).
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// Encode serializes the position into the opaque token handed to
// clients. Tokens carry nanosecond precision so resuming never skips
// or repeats a row.
func Encode(createdAt time.Time, id string) string {
	token := strconv.FormatInt(createdAt.UnixNano(), 10) + "|" + id
	return base64.URLEncoding.EncodeToString([]byte(token))
}

// Decode parses a client-supplied token. An empty token means the
// first page and decodes to nil; anything else that fails to parse is
// ErrInvalid.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalid
	}
	nanosPart, id, ok := strings.Cut(string(raw), "|")
	if !ok {
		return nil, ErrInvalid
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return nil, ErrInvalid
	}
	return &Cursor{CreatedAt: time.Unix(0, nanos).UTC(), ID: id}, nil
}

// ComputePage turns an over-fetched result set into a page. Callers
// query limit+1 rows; the extra row, when present, only signals that
// more data exists and is dropped from the page. key extracts the
// (createdAt, id) position of an item for the next-page token.
func ComputePage[T any](items []T, limit int, key func(T) (time.Time, string)) ([]T, string, bool) {
	if len(items) <= limit {
		return items, "", false
	}
	items = items[:limit]
	createdAt, id := key(items[len(items)-1])
	return items, Encode(createdAt, id), true
}
