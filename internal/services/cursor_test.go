package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)
	cursor := encodeCursor(at, "row-42")

	gotAt, gotID, err := decodeCursor(cursor)
	require.NoError(t, err)
	require.True(t, at.Equal(gotAt))
	require.Equal(t, "row-42", gotID)
}

func TestDecodeCursorRejectsGarbage(t *testing.T) {
	for _, cursor := range []string{"%%%", "bm90LWEtY3Vyc29y", ""} {
		_, _, err := decodeCursor(cursor)
		require.Error(t, err, "cursor %q", cursor)
	}
}
