package expressions

import (
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrInvalidContext indicates a serialized search context that does not match its schema.
var ErrInvalidContext = errors.New("invalid search context")

//go:embed context.schema.json
var contextSchema []byte

var contextSchemaLoader = gojsonschema.NewBytesLoader(contextSchema)

// ValidateContext checks a serialized search context ({query, filters,
// timeRange:{from,to}}). An empty string is valid.
func ValidateContext(raw string) error {
	if raw == "" {
		return nil
	}

	result, err := gojsonschema.Validate(contextSchemaLoader, gojsonschema.NewStringLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidContext, err)
	}

	if result.Valid() {
		return nil
	}

	details := make([]string, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		details = append(details, re.Field()+": "+re.Description())
	}

	return fmt.Errorf("%w: %s", ErrInvalidContext, strings.Join(details, "; "))
}
