// Package template turns the raw message body submitted with a start command
// into the ordered send queue of a task.
package template

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// ErrEmptyMessages is returned when the raw body has no non-blank lines.
var ErrEmptyMessages = errors.New("template: no messages in body")

// MinDelay is the smallest pacing delay, in seconds, a task may use.
const MinDelay = 1

// Expand splits raw on newlines, trims each line, drops blank ones and wraps
// every remaining line as "prefix line suffix". Empty prefix or suffix
// segments are omitted together with their separating space.
func Expand(raw, prefix, suffix string) ([]string, error) {
	prefix = strings.TrimSpace(prefix)
	suffix = strings.TrimSpace(suffix)

	lines := strings.Split(raw, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(strings.ReplaceAll(line, "\r", ""))
		if line == "" {
			continue
		}
		out = append(out, wrap(prefix, line, suffix))
	}

	if len(out) == 0 {
		return nil, ErrEmptyMessages
	}
	return out, nil
}

func wrap(prefix, line, suffix string) string {
	var b strings.Builder
	b.Grow(len(prefix) + len(line) + len(suffix) + 2)
	if prefix != "" {
		b.WriteString(prefix)
		b.WriteByte(' ')
	}
	b.WriteString(line)
	if suffix != "" {
		b.WriteByte(' ')
		b.WriteString(suffix)
	}
	return b.String()
}

// CoerceDelay converts a user supplied delay into whole seconds.
// Values that are not positive or cannot be parsed become MinDelay.
func CoerceDelay(v any) int {
	var n float64
	switch d := v.(type) {
	case int:
		n = float64(d)
	case int32:
		n = float64(d)
	case int64:
		n = float64(d)
	case float32:
		n = float64(d)
	case float64:
		n = d
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(d), 64)
		if err != nil {
			return MinDelay
		}
		n = f
	default:
		return MinDelay
	}

	if math.IsNaN(n) || math.IsInf(n, 0) || n < MinDelay {
		return MinDelay
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
