package services

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/caseflowhq/caseflow/pkg/errors"
)

// Pagination cursors are opaque to clients: a base64 wrapper around the
// (created_at, id) keyset position of the last row returned. Listing is
// ordered newest first, so the next page continues strictly below the cursor.

func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.UTC().Format(time.RFC3339Nano) + "|" + id
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(cursor string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", apperrors.NewBadRequest("invalid pagination cursor")
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", apperrors.NewBadRequest("invalid pagination cursor")
	}
	at, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", apperrors.NewBadRequest(fmt.Sprintf("invalid pagination cursor timestamp: %s", parts[0]))
	}
	return at, parts[1], nil
}

func clampPageSize(limit int) int {
	if limit <= 0 || limit > 100 {
		return 25
	}
	return limit
}
