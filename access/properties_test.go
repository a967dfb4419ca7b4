package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProperties_TypedRoundTrip(t *testing.T) {
	p := NewProperties()
	p.Set("address", "localhost")
	p.SetUint16("port", 6789)
	p.SetBool("remember", true)
	p.SetMillis("poll-interval", 2500*time.Millisecond)
	p.SetInt64("backfill-bytes", 0xFFFFFFFF)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p.SetTime("poll-base", base)

	port, err := p.Uint16("port", 0)
	require.NoError(t, err)
	assert.Equal(t, uint16(6789), port)

	remember, err := p.Bool("remember", false)
	require.NoError(t, err)
	assert.True(t, remember)

	d, err := p.Millis("poll-interval", 0)
	require.NoError(t, err)
	assert.Equal(t, 2500*time.Millisecond, d)

	n, err := p.Int64("backfill-bytes", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0xFFFFFFFF), n)

	got, err := p.Time("poll-base", time.Time{})
	require.NoError(t, err)
	assert.True(t, base.Equal(got))

	assert.Equal(t, "localhost", p.String("address", ""))
	assert.Equal(t, []string{"address", "backfill-bytes", "poll-base", "poll-interval", "port", "remember"}, p.Names())
}

func TestProperties_DefaultsAndErrors(t *testing.T) {
	p := PropertiesFromMap(map[string]string{"port": "99999", "flag": "maybe"})

	port, err := p.Uint16("port", 6789)
	assert.Error(t, err)
	assert.Equal(t, uint16(6789), port)

	_, err = p.Bool("flag", false)
	assert.Error(t, err)

	n, err := p.Int64("missing", 7)
	assert.NoError(t, err)
	assert.Equal(t, int64(7), n)
	assert.False(t, p.Has("missing"))
	p.Delete("port")
	assert.False(t, p.Has("port"))
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my_source_1", SanitizeName("my source-1"))
	assert.Equal(t, "source", SanitizeName(""))
	assert.Equal(t, "abc_DEF_9", SanitizeName("abc_DEF_9"))
}
