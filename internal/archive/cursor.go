package archive

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor is the keyset position of the last record on a page
type Cursor struct {
	CompletedAt time.Time
	JobID       string
}

// ErrInvalidCursor is returned for cursors that do not decode
var ErrInvalidCursor = errors.New("invalid cursor")

// DecodeCursor parses base64("unixnano|job_id"); empty input means the first page
func DecodeCursor(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}

	decoded, err := base64.URLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	ts, id, ok := strings.Cut(string(decoded), "|")
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: malformed position", ErrInvalidCursor)
	}

	nanos, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad timestamp: %v", ErrInvalidCursor, err)
	}

	return &Cursor{CompletedAt: time.Unix(0, nanos).UTC(), JobID: id}, nil
}

// Encode returns the opaque cursor string
func (c Cursor) Encode() string {
	raw := strconv.FormatInt(c.CompletedAt.UnixNano(), 10) + "|" + c.JobID
	return base64.URLEncoding.EncodeToString([]byte(raw))
}
