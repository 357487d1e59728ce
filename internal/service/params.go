package service

import (
	"fmt"
	"math"
	"time"
)

// Round2 rounds a monetary amount to two decimal places.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// PeriodOf formats a time as the YYYY-MM calendar month key used by the
// interest posting ledger and the savings deposit rows.
func PeriodOf(t time.Time) string {
	return t.Format("2006-01")
}

// ── job parameter decoding ───────────────────────────────────────────────────
//
// Job parameters arrive as an opaque JSON object; numbers decode as float64.
// Every accessor returns its default when the key is absent or the wrong type.

func paramString(params map[string]any, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func paramFloat(params map[string]any, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

func paramInt(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return def
}

func paramBool(params map[string]any, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}

// paramDate parses a YYYY-MM-DD parameter, falling back to def when absent.
// A present but malformed value is an error, not a silent fallback.
func paramDate(params map[string]any, key string, def time.Time) (time.Time, error) {
	raw, ok := params[key].(string)
	if !ok || raw == "" {
		return def, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: invalid date %q, expected YYYY-MM-DD", key, raw)
	}
	return t, nil
}

func paramStringList(params map[string]any, key string) []string {
	raw, ok := params[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
