package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
)

// IDList stores a list of document ids as a JSON array column.
type IDList []uint

// Value implements driver.Valuer.
// Parameters: none.
// Returns:
//   - driver.Value: JSON array text.
//   - error: non-nil if marshaling fails.
func (l IDList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]uint(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
// Parameters:
//   - value: raw column value, []byte or string.
//
// Returns:
//   - error: non-nil if the value is not a JSON array of ids.
func (l *IDList) Scan(value interface{}) error {
	if value == nil {
		*l = IDList{}
		return nil
	}
	raw, ok := value.([]byte)
	if !ok {
		s, ok := value.(string)
		if !ok {
			return errors.New("failed to scan IDList")
		}
		raw = []byte(s)
	}
	return json.Unmarshal(raw, (*[]uint)(l))
}

// Normalized returns the ids sorted ascending with duplicates and zeros removed.
func (l IDList) Normalized() IDList {
	seen := make(map[uint]bool, len(l))
	out := make(IDList, 0, len(l))
	for _, id := range l {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Contains reports whether id is in l.
func (l IDList) Contains(id uint) bool {
	for _, v := range l {
		if v == id {
			return true
		}
	}
	return false
}
