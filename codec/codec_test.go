package codec_test

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/mwantia/tbf"
	"github.com/mwantia/tbf/codec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshal_Layout(t *testing.T) {
	b, err := codec.Marshal([]tbf.Tag{
		tbf.DefaultTag("a"),
		tbf.NewTag(tbf.CustomGroup("g"), "bc"),
	})
	require.NoError(t, err)

	want := []byte{
		codec.Version,
		// default group, name "a"
		0, 0, 1, 0, 0, 0, 'a',
		// custom group "g", name "bc"
		1, 1, 1, 0, 0, 0, 'g', 2, 0, 0, 0, 'b', 'c',
	}
	assert.Equal(t, want, b)
}

func TestRoundTrip(t *testing.T) {
	tags := []tbf.Tag{
		tbf.DefaultTag("holiday"),
		tbf.NewTag(tbf.CustomGroup("year"), "2024"),
		tbf.NewTag(tbf.CustomGroup(""), "explicit-empty-group"),
		tbf.DefaultTag(""),
		tbf.NewTag(tbf.CustomGroup("städte"), "zürich"),
	}

	b, err := codec.Marshal(tags)
	require.NoError(t, err)

	got, err := codec.Unmarshal(b)
	require.NoError(t, err)
	assert.Equal(t, tags, got)
}

func TestUnmarshal_Empty(t *testing.T) {
	b, err := codec.Marshal(nil)
	require.NoError(t, err)
	assert.Equal(t, []byte{codec.Version}, b)

	got, err := codec.Unmarshal(b)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUnmarshal_Truncated(t *testing.T) {
	b, err := codec.Marshal([]tbf.Tag{tbf.NewTag(tbf.CustomGroup("group"), "name")})
	require.NoError(t, err)

	// Every cut inside the tag must fail, never yield a shorter list
	for cut := 2; cut < len(b); cut++ {
		_, err := codec.Unmarshal(b[:cut])
		assert.ErrorIs(t, err, codec.ErrMalformed, "cut at %d", cut)
		assert.True(t, codec.IsFormatError(err))
	}
}

func TestUnmarshal_MissingHeader(t *testing.T) {
	_, err := codec.Unmarshal(nil)
	assert.ErrorIs(t, err, codec.ErrMalformed)
}

func TestUnmarshal_UnsupportedVersion(t *testing.T) {
	_, err := codec.Unmarshal([]byte{9, 0, 0, 0, 0, 0, 0})
	assert.ErrorIs(t, err, codec.ErrUnsupportedVersion)
	assert.Equal(t, tbf.KindOther, tbf.KindOf(err))
}

func TestUnmarshal_BadGroupHeader(t *testing.T) {
	_, err := codec.Unmarshal([]byte{codec.Version, 1, 0, 1, 0, 0, 0, 'a'})
	assert.ErrorIs(t, err, codec.ErrMalformed)
}

func TestUnmarshal_InvalidUTF8(t *testing.T) {
	_, err := codec.Unmarshal([]byte{codec.Version, 0, 0, 2, 0, 0, 0, 0xff, 0xfe})
	assert.ErrorIs(t, err, codec.ErrInvalidUTF8)
}

func TestUnmarshal_OversizedLength(t *testing.T) {
	_, err := codec.Unmarshal([]byte{codec.Version, 0, 0, 0xff, 0xff, 0xff, 0xff})
	assert.ErrorIs(t, err, codec.ErrMalformed)
}

func TestDecoder_Next(t *testing.T) {
	b, err := codec.Marshal([]tbf.Tag{tbf.DefaultTag("a"), tbf.DefaultTag("b")})
	require.NoError(t, err)

	dec := codec.NewDecoder(bytes.NewReader(b))

	tag, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, tbf.DefaultTag("a"), tag)

	tag, err = dec.Next()
	require.NoError(t, err)
	assert.Equal(t, tbf.DefaultTag("b"), tag)

	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
	_, err = dec.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecoder_AllStopsEarly(t *testing.T) {
	b, err := codec.Marshal([]tbf.Tag{tbf.DefaultTag("a"), tbf.DefaultTag("b"), tbf.DefaultTag("c")})
	require.NoError(t, err)

	var seen []tbf.Tag
	for tag, err := range codec.NewDecoder(bytes.NewReader(b)).All() {
		require.NoError(t, err)
		seen = append(seen, tag)
		if len(seen) == 2 {
			break
		}
	}

	assert.Equal(t, []tbf.Tag{tbf.DefaultTag("a"), tbf.DefaultTag("b")}, seen)
}

func TestEncode_RejectsInvalidUTF8(t *testing.T) {
	for _, tags := range [][]tbf.Tag{
		{tbf.DefaultTag("ok"), tbf.DefaultTag("\xff")},
		{tbf.NewTag(tbf.CustomGroup("\xc3\x28"), "name")},
	} {
		var buf bytes.Buffer
		err := codec.Encode(&buf, tags)
		assert.ErrorIs(t, err, codec.ErrInvalidUTF8)
		assert.ErrorIs(t, err, tbf.ErrInvalidTag)
		assert.Zero(t, buf.Len(), "nothing may be written for a rejected stream")
	}
}

func TestEncode_RejectsOversizedString(t *testing.T) {
	var buf bytes.Buffer
	err := codec.Encode(&buf, []tbf.Tag{tbf.DefaultTag(strings.Repeat("a", codec.MaxStringLength+1))})
	assert.ErrorIs(t, err, codec.ErrMalformed)
	assert.Zero(t, buf.Len())
}
