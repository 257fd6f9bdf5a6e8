package sync

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// Change groups within one table.
const (
	GroupCreated = "created"
	GroupUpdated = "updated"
	GroupDeleted = "deleted"
)

// ErrInvalidPageToken is returned for tokens that cannot be decoded or that
// belong to a different cursor.
var ErrInvalidPageToken = errors.New("invalid page token")

// Keyset is the position of the last row returned for a group.
type Keyset struct {
	At int64  `json:"at"`
	ID string `json:"id"`
}

// PageToken continues a pull that overflowed the page size. Only groups
// listed in After still have rows to deliver. Timestamp is the serverNow of
// the first page and becomes the cursor once every page is consumed.
type PageToken struct {
	Cursor    int64                        `json:"c"`
	Timestamp int64                        `json:"ts"`
	After     map[string]map[string]Keyset `json:"after"`
}

func (p *PageToken) set(table, group string, k Keyset) {
	if p.After == nil {
		p.After = make(map[string]map[string]Keyset)
	}
	if p.After[table] == nil {
		p.After[table] = make(map[string]Keyset)
	}
	p.After[table][group] = k
}

func (p *PageToken) lookup(table, group string) (Keyset, bool) {
	if p == nil {
		return Keyset{}, false
	}
	k, ok := p.After[table][group]
	return k, ok
}

// Encode renders the token as an opaque URL-safe string.
func (p *PageToken) Encode() string {
	data, err := json.Marshal(p)
	if err != nil {
		// only plain structs; cannot fail
		panic(fmt.Sprintf("encode page token: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodePageToken parses a token produced by Encode and checks it was issued
// for cursor.
func DecodePageToken(s string, cursor int64) (*PageToken, error) {
	data, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	var p PageToken
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPageToken, err)
	}
	if p.Cursor != cursor {
		return nil, fmt.Errorf("%w: issued for cursor %d", ErrInvalidPageToken, p.Cursor)
	}
	if len(p.After) == 0 {
		return nil, fmt.Errorf("%w: no pending groups", ErrInvalidPageToken)
	}
	return &p, nil
}
