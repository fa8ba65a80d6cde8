package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	in := OrderCursor{CreatedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ID: 42}

	out, err := DecodeCursor(EncodeCursor(in))
	require.NoError(t, err)
	assert.True(t, in.CreatedAt.Equal(out.CreatedAt))
	assert.Equal(t, in.ID, out.ID)
}

func TestDecodeCursorEmptyStartsAtNewest(t *testing.T) {
	cursor, err := DecodeCursor("")
	require.NoError(t, err)
	assert.True(t, cursor.IsZero())

	cursor, err = DecodeCursor(EncodeCursor(OrderCursor{CreatedAt: time.Now(), ID: 1}))
	require.NoError(t, err)
	assert.False(t, cursor.IsZero())
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	_, err := DecodeCursor("%%%not-base64")
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

func TestNormalizePage(t *testing.T) {
	page, size := NormalizePage(0, 0)
	assert.Equal(t, 1, page)
	assert.Equal(t, DefaultPageSize, size)

	page, size = NormalizePage(3, 500)
	assert.Equal(t, 3, page)
	assert.Equal(t, DefaultPageSize, size)

	page, size = NormalizePage(2, 50)
	assert.Equal(t, 2, page)
	assert.Equal(t, 50, size)
}

func TestNewOffsetPageCountsPartialPage(t *testing.T) {
	page := newOffsetPage(nil, 41, 1, 20)
	assert.Equal(t, 3, page.TotalPages)

	page = newOffsetPage(nil, 40, 1, 20)
	assert.Equal(t, 2, page.TotalPages)
}
