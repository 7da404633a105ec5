package codec

import (
	"time"

	jcrom "github.com/jmptrader/jcrom"
)

// TimeRFC3339 returns a Converter storing time.Time as an RFC3339 string
// property instead of the store's native timestamp kind. Useful against
// stores (or existing trees) that keep timestamps as text.
func TimeRFC3339() jcrom.Converter {
	return jcrom.NewConverter(
		func(t time.Time) (jcrom.Value, error) {
			return jcrom.StringValue(formatRFC3339Canonical(t)), nil
		},
		func(v jcrom.Value) (time.Time, error) {
			return parseRFC3339(v.Str())
		},
	)
}

func parseRFC3339(s string) (time.Time, error) {
	// Accept RFC3339Nano (trailing zeros optional)
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		if t2, err2 := time.Parse(time.RFC3339, s); err2 == nil {
			return t2, nil
		}
		return time.Time{}, err
	}
	return t, nil
}

func formatRFC3339Canonical(t time.Time) string {
	// Normalize to UTC and format using RFC3339Nano (Go trims trailing zeros)
	return t.UTC().Format(time.RFC3339Nano)
}
