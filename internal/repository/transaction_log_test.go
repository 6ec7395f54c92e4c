package repository

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	pos := listCursor{
		CreatedAt: time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC),
		ID:        uuid.New(),
	}

	decoded, err := decodeCursor(encodeCursor(pos))
	require.NoError(t, err)
	assert.True(t, pos.CreatedAt.Equal(decoded.CreatedAt))
	assert.Equal(t, pos.ID, decoded.ID)
}

func TestCursorRejectsGarbage(t *testing.T) {
	_, err := decodeCursor("not base64 at all!!")
	assert.Error(t, err)

	// Valid base64 that is not a cursor payload.
	_, err = decodeCursor("aGVsbG8")
	assert.Error(t, err)
}
