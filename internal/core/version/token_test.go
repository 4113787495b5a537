package version

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToken_RoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793000, time.UTC)
	tok := FromTime(at)

	assert.Equal(t, "2026-03-14T09:26:53.589793Z", tok.String())

	parsed, err := Parse(tok.String())
	require.NoError(t, err)
	assert.True(t, parsed.Equal(tok))
}

func TestFromTime_TruncatesToMicroseconds(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 1_999, time.UTC)
	assert.Equal(t, 1000, FromTime(at).Time().Nanosecond())
}

func TestParse_NormalizesOffset(t *testing.T) {
	utc, err := Parse("2026-05-01T10:00:00.000123Z")
	require.NoError(t, err)
	local, err := Parse("2026-05-01T12:00:00.000123+02:00")
	require.NoError(t, err)

	assert.True(t, utc.Equal(local))
	assert.Equal(t, utc.String(), local.String())
}

func TestEqual_SingleMicrosecondDiffers(t *testing.T) {
	base := FromTime(time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC))
	other := FromTime(base.Time().Add(time.Microsecond))

	assert.False(t, base.Equal(other))
}

func TestParse_SubMicrosecondDigitsAreKept(t *testing.T) {
	stored := FromTime(time.Date(2026, 5, 1, 10, 0, 0, 1000, time.UTC))
	parsed, err := Parse("2026-05-01T10:00:00.0000015Z")
	require.NoError(t, err)

	assert.False(t, parsed.Equal(stored))
	assert.Equal(t, "2026-05-01T10:00:00.0000015Z", parsed.String())
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("")
	assert.Error(t, err)

	_, err = Parse("yesterday")
	assert.Error(t, err)
}

func TestParseOptional(t *testing.T) {
	tok, err := ParseOptional("  ")
	require.NoError(t, err)
	assert.Nil(t, tok)

	tok, err = ParseOptional("2026-05-01T10:00:00.000001Z")
	require.NoError(t, err)
	require.NotNil(t, tok)
}

func TestNext_AlwaysAdvances(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	current := FromTime(now)

	t.Run("clock moved forward", func(t *testing.T) {
		next := current.Next(now.Add(time.Second))
		assert.True(t, next.Time().Equal(now.Add(time.Second)))
	})

	t.Run("clock did not move", func(t *testing.T) {
		next := current.Next(now)
		assert.True(t, next.Time().Equal(now.Add(Resolution)))
	})

	t.Run("clock went backwards", func(t *testing.T) {
		next := current.Next(now.Add(-time.Hour))
		assert.True(t, next.Time().After(current.Time()))
	})
}

func TestToken_JSON(t *testing.T) {
	type payload struct {
		Token Token `json:"versionToken"`
	}
	in := payload{Token: FromTime(time.Date(2026, 2, 3, 4, 5, 6, 7000, time.UTC))}

	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"versionToken":"2026-02-03T04:05:06.000007Z"}`, string(raw))

	var out payload
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.True(t, out.Token.Equal(in.Token))
}

func TestToken_ScanValue(t *testing.T) {
	at := time.Date(2026, 2, 3, 4, 5, 6, 7000, time.FixedZone("x", 3600))

	var tok Token
	require.NoError(t, tok.Scan(at))
	assert.Equal(t, time.UTC, tok.Time().Location())

	v, err := tok.Value()
	require.NoError(t, err)
	assert.True(t, v.(time.Time).Equal(at))

	require.NoError(t, tok.Scan(nil))
	assert.True(t, tok.IsZero())
	assert.Error(t, tok.Scan(42))
}
