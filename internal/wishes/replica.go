package wishes

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Replica mirrors the full wish collection. Load returns unsanitized records
// so the store can sanitize them; Save always receives a complete snapshot.
type Replica interface {
	Load(ctx context.Context) ([]any, error)
	Save(ctx context.Context, wishes []Wish) error
}

// decodeSnapshot parses a persisted document. Invalid JSON is an error; valid
// JSON that is neither an array nor an object carrying a "wishes" array
// decodes to an empty collection.
func decodeSnapshot(raw []byte) ([]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var document any
	if err := decoder.Decode(&document); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedSnapshot, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedSnapshot)
	}
	return snapshotRecords(document), nil
}

func snapshotRecords(document any) []any {
	switch typed := document.(type) {
	case []any:
		return typed
	case map[string]any:
		if records, ok := typed["wishes"].([]any); ok {
			return records
		}
	}
	return nil
}

func encodeSnapshot(wishes []Wish) ([]byte, error) {
	if wishes == nil {
		wishes = []Wish{}
	}
	return json.Marshal(wishes)
}
