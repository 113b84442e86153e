package database

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"time"
)

// StringArray is an ordered set of strings that works across different
// databases (PostgreSQL, MySQL, SQLite). It is stored as a JSON string and
// can also read back PostgreSQL's native TEXT[] format. Enumeration order is
// insertion order, which gives the pagination layer a stable ordering.
type StringArray []string

// Contains reports whether id is a member.
func (a StringArray) Contains(id string) bool {
	for _, v := range a {
		if v == id {
			return true
		}
	}
	return false
}

// Ensure appends id if it is not already a member.
// Returns the (possibly unchanged) array and whether it was modified.
func (a StringArray) Ensure(id string) (StringArray, bool) {
	if a.Contains(id) {
		return a, false
	}
	return append(a, id), true
}

// Drop removes id if present, preserving the order of the remaining members.
// Returns the (possibly unchanged) array and whether it was modified.
func (a StringArray) Drop(id string) (StringArray, bool) {
	for i, v := range a {
		if v == id {
			out := make(StringArray, 0, len(a)-1)
			out = append(out, a[:i]...)
			out = append(out, a[i+1:]...)
			return out, true
		}
	}
	return a, false
}

// Scan implements the sql.Scanner interface for reading from the database.
func (a *StringArray) Scan(value interface{}) error {
	if value == nil {
		*a = nil
		return nil
	}

	switch v := value.(type) {
	case []byte:
		return a.scanBytes(v)
	case string:
		return a.scanBytes([]byte(v))
	default:
		return errors.New("StringArray: unsupported scan type")
	}
}

func (a *StringArray) scanBytes(data []byte) error {
	str := string(data)

	// JSON array (MySQL/SQLite)
	if strings.HasPrefix(str, "[") {
		return json.Unmarshal(data, a)
	}

	// PostgreSQL array format: {item1,item2,item3}
	if strings.HasPrefix(str, "{") && strings.HasSuffix(str, "}") {
		str = strings.TrimPrefix(str, "{")
		str = strings.TrimSuffix(str, "}")
		if str == "" {
			*a = StringArray{}
			return nil
		}
		*a = parsePostgresArray(str)
		return nil
	}

	if str == "" {
		*a = StringArray{}
		return nil
	}

	// Fallback: treat as single item
	*a = StringArray{str}
	return nil
}

// parsePostgresArray parses PostgreSQL array format, handling quoted strings.
func parsePostgresArray(s string) StringArray {
	var result StringArray
	var current strings.Builder
	inQuotes := false
	escaped := false

	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		switch r {
		case '\\':
			escaped = true
		case '"':
			inQuotes = !inQuotes
		case ',':
			if inQuotes {
				current.WriteRune(r)
			} else {
				result = append(result, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(r)
		}
	}

	if current.Len() > 0 {
		result = append(result, current.String())
	}

	return result
}

// Value implements the driver.Valuer interface for writing to the database.
func (a StringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	data, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (StringArray) GormDataType() string {
	return "text"
}

// TimeMap maps an id to a timestamp, stored as a JSON object string. Used for
// pending follow requests where each entry carries the time it was created.
type TimeMap map[string]time.Time

// Contains reports whether id is a member.
func (m TimeMap) Contains(id string) bool {
	_, ok := m[id]
	return ok
}

// Ensure records id with ts if it is not already present. An existing entry
// keeps its original timestamp (re-requests never refresh it).
// Returns the map and whether it was modified.
func (m TimeMap) Ensure(id string, ts time.Time) (TimeMap, bool) {
	if m.Contains(id) {
		return m, false
	}
	if m == nil {
		m = TimeMap{}
	}
	m[id] = ts
	return m, true
}

// Drop removes id if present. Returns the map and whether it was modified.
func (m TimeMap) Drop(id string) (TimeMap, bool) {
	if !m.Contains(id) {
		return m, false
	}
	delete(m, id)
	return m, true
}

// IDs returns the member ids sorted by timestamp ascending, ties broken by
// id, so paginated listings are stable.
func (m TimeMap) IDs() []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := ids[i], ids[j]
		if m[a].Equal(m[b]) {
			return a < b
		}
		return m[a].Before(m[b])
	})
	return ids
}

// Scan implements the sql.Scanner interface for reading from the database.
func (m *TimeMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}

	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return errors.New("TimeMap: unsupported scan type")
	}

	if len(data) == 0 {
		*m = TimeMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Value implements the driver.Valuer interface for writing to the database.
func (m TimeMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// GormDataType returns the GORM data type hint.
func (TimeMap) GormDataType() string {
	return "text"
}
