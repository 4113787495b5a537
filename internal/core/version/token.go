// Package version provides the optimistic-locking token carried by every
// mutable aggregate.
//
// A Token is a UTC instant with microsecond resolution, matching PostgreSQL
// timestamptz, so a token read from the database, serialized to a client and
// parsed back compares exactly equal to the stored value.
package version

import (
	"database/sql/driver"
	"fmt"
	"strings"
	"time"
)

// Layout is the canonical wire format: RFC 3339 in UTC with six fractional digits.
const Layout = "2006-01-02T15:04:05.000000Z07:00"

// Resolution is the smallest step between two consecutive tokens.
const Resolution = time.Microsecond

// Token is an opaque, strictly advancing version marker.
type Token struct {
	at time.Time
}

// FromTime builds a token from t, normalized to UTC and truncated to Resolution.
func FromTime(t time.Time) Token {
	return Token{at: t.UTC().Truncate(Resolution)}
}

// Parse reads a token from its string form. Any RFC 3339 offset is accepted;
// comparison happens on the instant, not on the text.
func Parse(s string) (Token, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Token{}, fmt.Errorf("empty version token")
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Token{}, fmt.Errorf("invalid version token %q: %w", s, err)
	}
	return Token{at: t.UTC()}, nil
}

// ParseOptional returns nil for an empty string.
func ParseOptional(s string) (*Token, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	t, err := Parse(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// Next returns the token to store after a mutation: now, or one Resolution step
// past t when the clock has not moved forward.
func (t Token) Next(now time.Time) Token {
	n := FromTime(now)
	if !n.at.After(t.at) {
		n = Token{at: t.at.Truncate(Resolution).Add(Resolution)}
	}
	return n
}

// Equal reports exact instant equality.
func (t Token) Equal(other Token) bool {
	return t.at.Equal(other.at)
}

// IsZero reports whether the token was never set.
func (t Token) IsZero() bool {
	return t.at.IsZero()
}

// Time returns the underlying instant.
func (t Token) Time() time.Time {
	return t.at
}

// String renders the canonical form. Tokens parsed with sub-microsecond digits
// keep them so they never collapse onto a stored token.
func (t Token) String() string {
	if t.at.Nanosecond()%int(Resolution) != 0 {
		return t.at.Format(time.RFC3339Nano)
	}
	return t.at.Format(Layout)
}

// MarshalText implements encoding.TextMarshaler (used by encoding/json).
func (t Token) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *Token) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Scan implements sql.Scanner for timestamptz columns.
func (t *Token) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*t = Token{}
		return nil
	case time.Time:
		*t = Token{at: v.UTC()}
		return nil
	case string:
		return t.UnmarshalText([]byte(v))
	default:
		return fmt.Errorf("cannot scan %T into version.Token", src)
	}
}

// Value implements driver.Valuer.
func (t Token) Value() (driver.Value, error) {
	if t.IsZero() {
		return nil, nil
	}
	return t.at, nil
}
