package persistence

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Cursor is the decoded form of the opaque pagination token. Key holds the
// last row's value under the active sort column (created_at unless a search
// sorts otherwise); id breaks ties. A cursor marks the last row of the
// previous page.
type Cursor struct {
	Key int64
	ID  uuid.UUID
}

// Encode renders the cursor in its wire form "<key>:<id>".
func (c Cursor) Encode() string {
	return fmt.Sprintf("%d:%s", c.Key, c.ID)
}

// ParseCursor decodes a wire cursor. Malformed cursors return an error; by
// contract callers log a warning and continue without a cursor rather than
// failing the request.
func ParseCursor(raw string) (Cursor, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return Cursor{}, fmt.Errorf("cursor is empty")
	}

	sep := strings.IndexByte(trimmed, ':')
	if sep <= 0 || sep == len(trimmed)-1 {
		return Cursor{}, fmt.Errorf("malformed cursor %q", raw)
	}

	key, err := strconv.ParseInt(trimmed[:sep], 10, 64)
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor key %q: %w", raw, err)
	}

	id, err := uuid.Parse(trimmed[sep+1:])
	if err != nil {
		return Cursor{}, fmt.Errorf("malformed cursor id %q: %w", raw, err)
	}

	return Cursor{Key: key, ID: id}, nil
}
