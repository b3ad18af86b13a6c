// Package timerange resolves dashboard time ranges ("now-15m" to "now", absolute
// ISO-8601 instants, anchored expressions like "2024-01-01||+1d/d") into absolute bounds.
package timerange

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Sentinel errors for time range resolution.
var (
	// ErrEmptyExpression indicates an empty from/to expression.
	ErrEmptyExpression = errors.New("timerange: empty expression")
	// ErrInvalidExpression indicates a malformed date-math expression.
	ErrInvalidExpression = errors.New("timerange: invalid expression")
	// ErrInvalidUnit indicates an unknown date-math unit.
	ErrInvalidUnit = errors.New("timerange: invalid unit")
	// ErrInvertedRange indicates the resolved minimum is after the maximum.
	ErrInvertedRange = errors.New("timerange: min is after max")
)

const (
	nowKeyword   = "now"
	anchorSep    = "||"
	millisPerSec = 1000
)

// absoluteLayouts are tried in order for absolute anchors.
var absoluteLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// TimeRange is the host-supplied range descriptor.
type TimeRange struct {
	From string `json:"from" yaml:"from"`
	To   string `json:"to"   yaml:"to"`
}

// Bounds are the resolved absolute instants of a range.
type Bounds struct {
	Min time.Time
	Max time.Time
}

// MinMillis returns the lower bound in epoch milliseconds truncated to whole seconds.
func (b Bounds) MinMillis() int64 {
	return b.Min.Unix() * millisPerSec
}

// MaxMillis returns the upper bound in epoch milliseconds truncated to whole seconds.
func (b Bounds) MaxMillis() int64 {
	return b.Max.Unix() * millisPerSec
}

// Resolve computes absolute bounds. The lower bound rounds down and the
// upper bound rounds up when an expression carries a "/unit" rounding.
func Resolve(tr TimeRange, now time.Time) (Bounds, error) {
	lower, err := Parse(tr.From, now, false)
	if err != nil {
		return Bounds{}, fmt.Errorf("from: %w", err)
	}

	upper, err := Parse(tr.To, now, true)
	if err != nil {
		return Bounds{}, fmt.Errorf("to: %w", err)
	}

	if lower.After(upper) {
		return Bounds{}, fmt.Errorf("%w: %s > %s", ErrInvertedRange, lower.Format(time.RFC3339), upper.Format(time.RFC3339))
	}

	return Bounds{Min: lower, Max: upper}, nil
}

// Parse evaluates one date-math expression relative to now.
func Parse(expr string, now time.Time, roundUp bool) (time.Time, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return time.Time{}, ErrEmptyExpression
	}

	var (
		anchor time.Time
		math   string
	)

	switch {
	case strings.HasPrefix(expr, nowKeyword):
		anchor = now
		math = expr[len(nowKeyword):]
	case strings.Contains(expr, anchorSep):
		base, rest, _ := strings.Cut(expr, anchorSep)

		parsed, err := parseAbsolute(base)
		if err != nil {
			return time.Time{}, err
		}

		anchor = parsed
		math = rest
	default:
		return parseAbsolute(expr)
	}

	return applyMath(anchor, math, roundUp)
}

func parseAbsolute(s string) (time.Time, error) {
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}

	for _, layout := range absoluteLayouts {
		parsed, err := time.Parse(layout, s)
		if err == nil {
			return parsed, nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidExpression, s)
}

// applyMath evaluates a sequence of "+N<unit>", "-N<unit>" and "/<unit>" operations.
func applyMath(t time.Time, math string, roundUp bool) (time.Time, error) {
	for i := 0; i < len(math); {
		op := math[i]
		i++

		if op != '+' && op != '-' && op != '/' {
			return time.Time{}, fmt.Errorf("%w: unexpected %q", ErrInvalidExpression, op)
		}

		num := 1

		if op != '/' {
			start := i
			for i < len(math) && math[i] >= '0' && math[i] <= '9' {
				i++
			}

			if i > start {
				parsed, err := strconv.Atoi(math[start:i])
				if err != nil {
					return time.Time{}, fmt.Errorf("%w: %w", ErrInvalidExpression, err)
				}

				num = parsed
			}
		}

		unit, width := readUnit(math[i:])
		if width == 0 {
			return time.Time{}, fmt.Errorf("%w: missing unit in %q", ErrInvalidUnit, math)
		}

		i += width

		var err error

		switch op {
		case '/':
			t, err = round(t, unit, roundUp)
		case '+':
			t, err = shift(t, unit, num)
		case '-':
			t, err = shift(t, unit, -num)
		}

		if err != nil {
			return time.Time{}, err
		}
	}

	return t, nil
}

func readUnit(s string) (unit string, width int) {
	if strings.HasPrefix(s, "ms") {
		return "ms", 2
	}

	if s == "" {
		return "", 0
	}

	switch s[0] {
	case 'y', 'M', 'w', 'd', 'h', 'H', 'm', 's':
		return s[:1], 1
	}

	return "", 0
}

func shift(t time.Time, unit string, n int) (time.Time, error) {
	switch unit {
	case "y":
		return t.AddDate(n, 0, 0), nil
	case "M":
		return t.AddDate(0, n, 0), nil
	case "w":
		return t.AddDate(0, 0, 7*n), nil
	case "d":
		return t.AddDate(0, 0, n), nil
	case "h", "H":
		return t.Add(time.Duration(n) * time.Hour), nil
	case "m":
		return t.Add(time.Duration(n) * time.Minute), nil
	case "s":
		return t.Add(time.Duration(n) * time.Second), nil
	case "ms":
		return t.Add(time.Duration(n) * time.Millisecond), nil
	}

	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
}

// round works on wall-clock fields in t's location, so zones with
// non-hour offsets round to their own hour boundaries.
func round(t time.Time, unit string, roundUp bool) (time.Time, error) {
	loc := t.Location()

	var start time.Time

	switch unit {
	case "y":
		start = time.Date(t.Year(), time.January, 1, 0, 0, 0, 0, loc)
	case "M":
		start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case "w":
		// ISO weeks start on Monday.
		offset := (int(t.Weekday()) + 6) % 7
		start = time.Date(t.Year(), t.Month(), t.Day()-offset, 0, 0, 0, 0, loc)
	case "d":
		start = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	case "h", "H":
		start = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, loc)
	case "m":
		start = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, loc)
	case "s":
		start = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, loc)
	case "ms":
		ms := t.Nanosecond() / int(time.Millisecond) * int(time.Millisecond)
		start = time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), ms, loc)
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}

	if !roundUp {
		return start, nil
	}

	next, err := shift(start, unit, 1)
	if err != nil {
		return time.Time{}, err
	}

	return next.Add(-time.Millisecond), nil
}
