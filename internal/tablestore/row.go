package tablestore

import "time"

// String returns the named field as a string, or "" when absent or of
// another type.
func (r Row) String(field string) string {
	s, _ := r[field].(string)
	return s
}

// Bool returns the named field as a bool, defaulting to false. Integer
// values are accepted because sqlite has no native boolean type.
func (r Row) Bool(field string) bool {
	switch v := r[field].(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	default:
		return false
	}
}

// Int returns the named field as an int, accepting the integer and float
// widths SQL drivers commonly hand back.
func (r Row) Int(field string) int {
	switch v := r[field].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}

// Time returns the named field as a time.Time. String values are parsed as
// RFC 3339; anything else yields the zero time.
func (r Row) Time(field string) time.Time {
	switch v := r[field].(type) {
	case time.Time:
		return v
	case string:
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			t, err = time.Parse(time.RFC3339, v)
			if err != nil {
				return time.Time{}
			}
		}
		return t
	default:
		return time.Time{}
	}
}
