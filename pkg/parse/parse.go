package parse

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseString stringifies v, "" for nil. Floats are rendered without trailing zeros
// so that 500 and 500.0 produce the same text.
func ParseString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	}
	return fmt.Sprintf("%v", v)
}

// Normalize is the comparison form of a scalar: trimmed and upper cased.
func Normalize(v interface{}) string {
	return strings.ToUpper(strings.TrimSpace(ParseString(v)))
}

// ParseFloat reports whether v is a number or a string holding one.
// NaN and infinities are rejected.
func ParseFloat(v interface{}) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case string:
		return parseFloatString(t)
	case []byte:
		return parseFloatString(string(t))
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func parseFloatString(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// ParseList returns v as a slice when it is one; scalars are not promoted.
func ParseList(v interface{}) ([]interface{}, bool) {
	switch t := v.(type) {
	case []interface{}:
		return t, true
	case []string:
		res := make([]interface{}, len(t))
		for i, s := range t {
			res[i] = s
		}
		return res, true
	case []float64:
		res := make([]interface{}, len(t))
		for i, f := range t {
			res[i] = f
		}
		return res, true
	case []int:
		res := make([]interface{}, len(t))
		for i, n := range t {
			res[i] = n
		}
		return res, true
	}
	return nil, false
}

func ParseBool(v interface{}) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}

func ParseDate(v interface{}) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		d, _ := time.Parse(time.RFC3339Nano, t)
		return d
	}
	return time.Time{}
}
