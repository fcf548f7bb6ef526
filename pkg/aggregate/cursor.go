package aggregate

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// cursor is the decoded continuation state. Kept deliberately small: the
// caller re-sends the query, the cursor only remembers how far the merged
// sequence has been consumed.
type cursor struct {
	Offset int `json:"o"`
}

func encodeCursor(c cursor) string {
	raw, err := json.Marshal(c)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// DecodeCursor turns an opaque continuation cursor back into the merged
// offset it represents.
func DecodeCursor(s string) (int, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	var c cursor
	if err := json.Unmarshal(raw, &c); err != nil {
		return 0, fmt.Errorf("invalid cursor: %w", err)
	}
	if c.Offset < 0 {
		return 0, fmt.Errorf("invalid cursor: negative offset")
	}
	return c.Offset, nil
}
