package expressions

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Argument errors.
var (
	ErrUnknownArgument = errors.New("unknown argument")
	ErrMissingArgument = errors.New("missing required argument")
	ErrArgumentType    = errors.New("argument has the wrong type")
)

// ArgumentType is the kind of value an argument accepts.
type ArgumentType int

const (
	// StringArgument accepts strings.
	StringArgument ArgumentType = iota
	// NumberArgument accepts JSON numbers.
	NumberArgument
	// BooleanArgument accepts booleans.
	BooleanArgument
)

// String returns the pipeline type name.
func (t ArgumentType) String() string {
	switch t {
	case StringArgument:
		return "string"
	case NumberArgument:
		return "number"
	case BooleanArgument:
		return "boolean"
	default:
		return fmt.Sprintf("ArgumentType(%d)", int(t))
	}
}

// ArgumentOption declares one named argument of a function.
type ArgumentOption struct {
	// Default is used when the argument is absent. Ignored when Required.
	Default any
	// Name is the argument key in calls.
	Name string
	// Help is shown in function listings.
	Help string
	// Type is the accepted value kind.
	Type ArgumentType
	// Required rejects calls that omit the argument.
	Required bool
}

// FormatDefault renders the default for listings: strings quoted, others as is.
func (opt ArgumentOption) FormatDefault() string {
	if opt.Required {
		return "(required)"
	}

	if opt.Type == StringArgument {
		return fmt.Sprintf("%q", opt.Default)
	}

	return fmt.Sprint(opt.Default)
}

func (opt ArgumentOption) accepts(v any) bool {
	switch opt.Type {
	case StringArgument:
		_, ok := v.(string)

		return ok
	case NumberArgument:
		switch v.(type) {
		case float64, float32, int, int64, int32:
			return true
		}

		return false
	case BooleanArgument:
		_, ok := v.(bool)

		return ok
	default:
		return false
	}
}

// ParseArguments checks raw against opts and fills defaults. Unknown names,
// missing required arguments and mistyped values are all reported together.
func ParseArguments(opts []ArgumentOption, raw map[string]any) (map[string]any, error) {
	known := make(map[string]ArgumentOption, len(opts))
	for _, opt := range opts {
		known[opt.Name] = opt
	}

	var (
		errs    []error
		unknown []string
	)

	for name := range raw {
		if _, ok := known[name]; !ok {
			unknown = append(unknown, name)
		}
	}

	sort.Strings(unknown)

	if len(unknown) > 0 {
		errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownArgument, strings.Join(unknown, ", ")))
	}

	out := make(map[string]any, len(opts))

	for _, opt := range opts {
		v, ok := raw[opt.Name]

		switch {
		case !ok && opt.Required:
			errs = append(errs, fmt.Errorf("%w: %s", ErrMissingArgument, opt.Name))
		case !ok:
			out[opt.Name] = opt.Default
		case !opt.accepts(v):
			errs = append(errs, fmt.Errorf("%w: %s wants %s, got %T", ErrArgumentType, opt.Name, opt.Type, v))
		default:
			out[opt.Name] = v
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return out, nil
}
