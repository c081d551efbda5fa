package firestore

import (
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/mixmall/api/internal/platform/pagination"
)

// encodeCreatedCursor builds the page token for createdAt-descending listings.
// The document id breaks ties between entries created in the same instant.
func encodeCreatedCursor(createdAt time.Time, docID string) (string, error) {
	return pagination.EncodeToken(pagination.Cursor{
		StartAfter: []any{createdAt.UTC().Format(time.RFC3339Nano), docID},
	})
}

// decodeCreatedCursor parses a token produced by encodeCreatedCursor.
func decodeCreatedCursor(token string) (time.Time, string, bool, error) {
	cursor, err := pagination.DecodeToken(token)
	if err != nil {
		return time.Time{}, "", false, err
	}
	if len(cursor.StartAfter) == 0 {
		return time.Time{}, "", false, nil
	}
	if len(cursor.StartAfter) != 2 {
		return time.Time{}, "", false, fmt.Errorf("%w: unexpected cursor shape", pagination.ErrInvalidPageToken)
	}
	rawTime, ok := cursor.StartAfter[0].(string)
	if !ok {
		return time.Time{}, "", false, fmt.Errorf("%w: cursor timestamp must be a string", pagination.ErrInvalidPageToken)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, rawTime)
	if err != nil {
		return time.Time{}, "", false, fmt.Errorf("%w: %v", pagination.ErrInvalidPageToken, err)
	}
	docID, ok := cursor.StartAfter[1].(string)
	if !ok || docID == "" {
		return time.Time{}, "", false, fmt.Errorf("%w: cursor id must be a string", pagination.ErrInvalidPageToken)
	}
	return createdAt, docID, true, nil
}

// applyCreatedCursor orders the query newest first and applies the decoded
// cursor when present.
func applyCreatedCursor(query firestore.Query, token string) (firestore.Query, error) {
	query = query.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
	createdAt, docID, ok, err := decodeCreatedCursor(token)
	if err != nil {
		return query, err
	}
	if ok {
		query = query.StartAfter(createdAt, docID)
	}
	return query, nil
}
