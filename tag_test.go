package tbf_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mwantia/tbf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGroup_Conversion(t *testing.T) {
	assert.Equal(t, tbf.DefaultGroup, tbf.GroupOf(""))
	assert.Equal(t, tbf.CustomGroup("g"), tbf.GroupOf("g"))
	assert.NotEqual(t, tbf.DefaultGroup, tbf.CustomGroup(""))

	assert.True(t, tbf.DefaultGroup.Equal(""))
	assert.True(t, tbf.CustomGroup("g").Equal("g"))
	assert.False(t, tbf.CustomGroup("g").Equal(""))
}

func TestGroup_Ordering(t *testing.T) {
	assert.Negative(t, tbf.DefaultGroup.Compare(tbf.CustomGroup("")))
	assert.Negative(t, tbf.CustomGroup("a").Compare(tbf.CustomGroup("b")))
	assert.Positive(t, tbf.CustomGroup("a").Compare(tbf.DefaultGroup))
	assert.Zero(t, tbf.CustomGroup("a").Compare(tbf.CustomGroup("a")))
}

func TestParseTag(t *testing.T) {
	assert.Equal(t, tbf.DefaultTag("a"), tbf.ParseTag("a"))
	assert.Equal(t, tbf.DefaultTag("a"), tbf.ParseTag(":a"))
	assert.Equal(t, tbf.NewTag(tbf.CustomGroup("g"), "b"), tbf.ParseTag("g:b"))
	assert.Equal(t, tbf.NewTag(tbf.CustomGroup("g"), "b:c"), tbf.ParseTag("g:b:c"))
	assert.Equal(t, "g:b", tbf.ParseTag("g:b").String())
}

func TestNewTagSet(t *testing.T) {
	set := tbf.NewTagSet(
		tbf.NewTag(tbf.CustomGroup("g"), "b"),
		tbf.DefaultTag("b"),
		tbf.DefaultTag("a"),
		tbf.NewTag(tbf.CustomGroup("g"), "b"),
		tbf.DefaultTag("a"),
	)

	assert.Equal(t, []tbf.Tag{
		tbf.DefaultTag("a"),
		tbf.DefaultTag("b"),
		tbf.NewTag(tbf.CustomGroup("g"), "b"),
	}, set)
}

func TestValidateTags(t *testing.T) {
	assert.NoError(t, tbf.ValidateTags(nil))
	assert.NoError(t, tbf.ValidateTags([]tbf.Tag{tbf.DefaultTag("zürich"), tbf.NewTag(tbf.CustomGroup("städte"), "")}))

	err := tbf.ValidateTags([]tbf.Tag{tbf.DefaultTag("ok"), tbf.DefaultTag("\xff")})
	assert.ErrorIs(t, err, tbf.ErrInvalidTag)
	assert.ErrorIs(t, err, tbf.ErrInvalidArgument)

	assert.False(t, tbf.NewTag(tbf.CustomGroup("\xff"), "name").Valid())
	assert.True(t, tbf.DefaultTag("name").Valid())
}

func TestTag_MapKey(t *testing.T) {
	seen := map[tbf.Tag]int{}
	seen[tbf.ParseTag("g:a")]++
	seen[tbf.NewTag(tbf.CustomGroup("g"), "a")]++

	assert.Len(t, seen, 1)
}

func TestFileId_Conversion(t *testing.T) {
	_, err := tbf.FileIdFromUint64(255)
	assert.ErrorIs(t, err, tbf.ErrReservedFileId)

	id, err := tbf.FileIdFromUint64(256)
	require.NoError(t, err)
	assert.True(t, id.IsFile())
	assert.False(t, id.IsSpecial())

	special := tbf.FileIdFromUint64Unchecked(7)
	assert.True(t, special.IsSpecial())
	assert.Equal(t, uint64(7), special.Uint64Unchecked())

	_, err = special.Uint64()
	assert.ErrorIs(t, err, tbf.ErrReservedFileId)

	raw, err := id.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(256), raw)
}

func TestFileId_String(t *testing.T) {
	id := tbf.FileIdFromUint64Unchecked(0xABC)
	assert.Equal(t, "0000000000000ABC", id.String())

	parsed, err := tbf.ParseFileId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{"", "ABC", "0000000000000abc", "000000000000000G", "tbf"} {
		_, err := tbf.ParseFileId(bad)
		assert.ErrorIs(t, err, tbf.ErrInvalidFileId, bad)
	}
}

func TestFileInfo_Snapshot(t *testing.T) {
	data := []byte{0, 1, 2, 3}
	info := tbf.NewFileInfo(256, data, []tbf.Tag{tbf.DefaultTag("b"), tbf.DefaultTag("a"), tbf.DefaultTag("b")})

	data[0] = 9
	assert.Equal(t, []byte{0, 1, 2, 3}, info.Data())
	assert.Equal(t, []tbf.Tag{tbf.DefaultTag("a"), tbf.DefaultTag("b")}, info.Tags())
	assert.True(t, info.HasTag(tbf.DefaultTag("a")))
	assert.False(t, info.HasTag(tbf.DefaultTag("c")))
	assert.Equal(t, 4, info.Size())
}

func TestFileUpdate(t *testing.T) {
	info := tbf.NewFileInfo(300, []byte("old"), []tbf.Tag{tbf.DefaultTag("a")})

	updated := tbf.UpdateData([]byte("new")).Apply(info)
	assert.Equal(t, []byte("new"), updated.Data())
	assert.Equal(t, info.Tags(), updated.Tags())

	updated = tbf.UpdateTags(tbf.DefaultTag("b")).Apply(info)
	assert.Equal(t, []byte("old"), updated.Data())
	assert.Equal(t, []tbf.Tag{tbf.DefaultTag("b")}, updated.Tags())

	merged := tbf.UpdateData([]byte("x")).Merge(tbf.UpdateTags())
	assert.True(t, merged.HasData())
	assert.True(t, merged.HasTags())

	var none *tbf.FileUpdate
	assert.False(t, none.HasData())
	assert.False(t, none.HasTags())
}

func TestErrors(t *testing.T) {
	var errs tbf.Errors
	errs.Add(nil)
	assert.NoError(t, errs.Errors())

	errs.Add(tbf.Source("checkpoint", errors.New("disk gone")))
	errs.Add(tbf.ErrNotOpen)

	err := errs.Errors()
	require.Error(t, err)
	assert.ErrorIs(t, err, tbf.ErrNotOpen)

	var se *tbf.SourceError
	assert.ErrorAs(t, err, &se)
	assert.Equal(t, "checkpoint", se.Op)
}

func TestKindOf(t *testing.T) {
	cases := []struct {
		err  error
		want tbf.ErrorKind
	}{
		{tbf.FileNotFound(300), tbf.KindFileNotFound},
		{tbf.ErrPoisoned, tbf.KindState},
		{tbf.ErrNotOpen, tbf.KindState},
		{tbf.Source("read", errors.New("disk on fire")), tbf.KindSource},
		{fmt.Errorf("wrapped: %w", tbf.Source("read", errors.New("eio"))), tbf.KindSource},
		{tbf.Source("read", tbf.FileNotFound(300)), tbf.KindFileNotFound},
		{errors.New("something else"), tbf.KindOther},
	}

	for _, c := range cases {
		assert.Equal(t, c.want, tbf.KindOf(c.err), c.err.Error())
	}

	assert.Nil(t, tbf.Source("noop", nil))
}
