package pagination

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrStale reports a cursor issued against another snapshot or filter set.
var ErrStale = errors.New("cursor: stale for current snapshot or filters")

// Cursor is the opaque row-listing token (pre-encoding). Short field names keep
// the payload small; it is serialized to minified JSON and encoded with
// URL-safe base64.
//
// Fields:
//   - v:   cursor schema version
//   - sv:  snapshot version the listing was issued against
//   - fh:  hash of the active filters
//   - off: row offset into the filtered result
//   - ps:  page size in rows
//   - iat: issued-at timestamp (unix seconds)
type Cursor struct {
	V   int    `json:"v"`
	Sv  string `json:"sv"`
	Fh  string `json:"fh,omitempty"`
	Off int    `json:"off"`
	Ps  int    `json:"ps"`
	Iat int64  `json:"iat"`
}

// EncodeCursor serializes and encodes the cursor as URL-safe base64 (without padding).
func EncodeCursor(c Cursor) (string, error) {
	if err := validate(&c); err != nil {
		return "", err
	}
	b, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor decodes a URL-safe base64 token and parses the JSON cursor.
func DecodeCursor(token string) (*Cursor, error) {
	t := strings.TrimSpace(token)
	if t == "" {
		return nil, errors.New("cursor: empty token")
	}
	data, err := base64.RawURLEncoding.DecodeString(t)
	if err != nil {
		return nil, fmt.Errorf("cursor: invalid base64: %w", err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("cursor: invalid json: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Bind checks that the cursor belongs to the given snapshot version and filter hash.
func (c *Cursor) Bind(snapshotVersion, filterHash string) error {
	if c.Sv != snapshotVersion || c.Fh != filterHash {
		return ErrStale
	}
	return nil
}

// validate performs structural checks and defaulting.
func validate(c *Cursor) error {
	if c.V <= 0 {
		c.V = 1
	}
	if c.Iat == 0 {
		c.Iat = time.Now().Unix()
	}
	if strings.TrimSpace(c.Sv) == "" {
		return errors.New("cursor: sv (snapshot version) required")
	}
	if c.Off < 0 {
		return errors.New("cursor: off must be >= 0")
	}
	if c.Ps <= 0 {
		return errors.New("cursor: ps must be > 0")
	}
	return nil
}

// NextOffset computes the next offset after returning n units.
func NextOffset(curr, n int) int {
	if curr < 0 {
		curr = 0
	}
	if n <= 0 {
		return curr
	}
	return curr + n
}

// Window clamps [off, off+ps) to total and reports whether more rows follow.
func Window(total, off, ps int) (start, end int, more bool) {
	if off < 0 {
		off = 0
	}
	if off > total {
		off = total
	}
	end = off + ps
	if ps <= 0 || end > total {
		end = total
	}
	return off, end, end < total
}

// Hash returns a short stable digest of s for binding cursors to inputs.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:8])
}
