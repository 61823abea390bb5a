package migration

import (
	"encoding/json"
	"fmt"
)

func encodeRecord(rec Record) ([]byte, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode migration record: %w", err)
	}
	return raw, nil
}

func decodeRecord(raw []byte) (Record, bool, error) {
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, false, fmt.Errorf("decode migration record: %w", err)
	}
	return rec, true, nil
}
