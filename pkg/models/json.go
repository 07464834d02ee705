package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSON column types below implement sql.Scanner and driver.Valuer so they
// can be stored as TEXT by the GORM models.

// JSONStringArray is a []string stored as a JSON array.
type JSONStringArray []string

// Scan implements sql.Scanner.
func (a *JSONStringArray) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil || raw == nil {
		*a = nil
		return err
	}
	return json.Unmarshal(raw, a)
}

// Value implements driver.Valuer.
func (a JSONStringArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	return string(b), err
}

// JSONIntArray is an []int stored as a JSON array.
type JSONIntArray []int

// Scan implements sql.Scanner.
func (a *JSONIntArray) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil || raw == nil {
		*a = nil
		return err
	}
	return json.Unmarshal(raw, a)
}

// Value implements driver.Valuer.
func (a JSONIntArray) Value() (driver.Value, error) {
	if a == nil {
		return "[]", nil
	}
	b, err := json.Marshal(a)
	return string(b), err
}

// JSONStringMap is a map[string]string stored as a JSON object.
type JSONStringMap map[string]string

// Scan implements sql.Scanner.
func (m *JSONStringMap) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil || raw == nil {
		*m = nil
		return err
	}
	return json.Unmarshal(raw, m)
}

// Value implements driver.Valuer.
func (m JSONStringMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	return string(b), err
}

// OptionList is a scenario's answer options stored as a JSON array.
type OptionList []Option

// Scan implements sql.Scanner.
func (l *OptionList) Scan(value interface{}) error {
	raw, err := jsonBytes(value)
	if err != nil || raw == nil {
		*l = nil
		return err
	}
	return json.Unmarshal(raw, l)
}

// Value implements driver.Valuer.
func (l OptionList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal(l)
	return string(b), err
}

// jsonBytes normalizes a scanned column value. Returns nil for NULL or empty.
func jsonBytes(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case string:
		if v == "" {
			return nil, nil
		}
		return []byte(v), nil
	case []byte:
		if len(v) == 0 {
			return nil, nil
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unsupported JSON column type %T", value)
	}
}
