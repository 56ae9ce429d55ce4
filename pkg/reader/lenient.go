package reader

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Producer JSON is untrusted: a field of an unexpected type decodes to its
// zero value instead of failing the whole document.

// looseString accepts strings, numbers and booleans.
type looseString string

func (s *looseString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)

	switch {
	case len(data) == 0, bytes.Equal(data, []byte("null")):
		*s = ""
	case data[0] == '"':
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			*s = ""

			return nil //nolint:nilerr // lenient by contract
		}

		*s = looseString(v)
	case data[0] == '{' || data[0] == '[':
		*s = ""
	default:
		*s = looseString(data)
	}

	return nil
}

// looseInt64 accepts integers, floats and numeric strings. Fractions are
// truncated.
type looseInt64 int64

func (n *looseInt64) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	text := string(data)

	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			*n = 0

			return nil //nolint:nilerr // lenient by contract
		}

		text = strings.TrimSpace(v)
	}

	*n = looseInt64(parseLooseInt(text))

	return nil
}

func parseLooseInt(text string) int64 {
	if v, err := strconv.ParseInt(text, 10, 64); err == nil {
		return v
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxInt64 {
		return 0
	}

	return int64(f)
}

// looseBool accepts booleans, "true"/"false" strings and numbers (non-zero
// is true).
type looseBool bool

func (b *looseBool) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	text := string(data)

	if len(data) > 0 && data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			*b = false

			return nil //nolint:nilerr // lenient by contract
		}

		text = strings.TrimSpace(v)
	}

	if v, err := strconv.ParseBool(text); err == nil {
		*b = looseBool(v)

		return nil
	}

	f, err := strconv.ParseFloat(text, 64)
	*b = looseBool(err == nil && f != 0)

	return nil
}

// looseList decodes a JSON array element by element, dropping elements
// that do not decode. Anything other than an array is an empty list.
type looseList[T any] []T

func (l *looseList[T]) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		*l = nil

		return nil //nolint:nilerr // lenient by contract
	}

	out := make([]T, 0, len(items))

	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err != nil {
			continue
		}

		out = append(out, v)
	}

	*l = out

	return nil
}

func (l looseList[T]) strings(conv func(T) string) []string {
	if len(l) == 0 {
		return nil
	}

	out := make([]string, 0, len(l))
	for _, v := range l {
		out = append(out, conv(v))
	}

	return out
}
