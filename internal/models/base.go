package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// DBTime is a timestamp column that scans from both native time values
// (lib/pq) and textual timestamps (sqlite)
type DBTime struct {
	time.Time
}

var dbTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04:05.999999999 -0700 MST",
}

// NewDBTime wraps t in UTC
func NewDBTime(t time.Time) DBTime {
	return DBTime{Time: t.UTC()}
}

// Value implements driver.Valuer interface. Timestamps travel as
// RFC 3339 text so both drivers store the same representation.
func (t DBTime) Value() (driver.Value, error) {
	return t.Time.UTC().Format(time.RFC3339Nano), nil
}

// Scan implements sql.Scanner interface
func (t *DBTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time = time.Time{}
		return nil
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	default:
		return fmt.Errorf("cannot scan %T into DBTime", value)
	}
}

func (t *DBTime) parse(s string) error {
	for _, layout := range dbTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}

// MarshalJSON implements json.Marshaler
func (t DBTime) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Time)
}

// UnmarshalJSON implements json.Unmarshaler
func (t *DBTime) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &t.Time)
}

// JSONText stores an arbitrary JSON document in a text column
type JSONText json.RawMessage

// Value implements driver.Valuer interface
func (j JSONText) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

// Scan implements sql.Scanner interface
func (j *JSONText) Scan(value interface{}) error {
	switch data := value.(type) {
	case nil:
		*j = nil
	case []byte:
		*j = append((*j)[:0], data...)
	case string:
		*j = JSONText(data)
	default:
		return fmt.Errorf("cannot scan %T into JSONText", value)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (j JSONText) MarshalJSON() ([]byte, error) {
	if len(j) == 0 {
		return []byte("null"), nil
	}
	return j, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (j *JSONText) UnmarshalJSON(data []byte) error {
	*j = append((*j)[:0], data...)
	return nil
}

// ToJSONText marshals v, falling back to null
func ToJSONText(v interface{}) JSONText {
	data, err := json.Marshal(v)
	if err != nil {
		return JSONText("null")
	}
	return JSONText(data)
}
