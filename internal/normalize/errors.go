package normalize

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidRow is matched by every *ValidationError.
var ErrInvalidRow = errors.New("invalid row")

// ValidationError reports the identity fields a row is missing.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field(s): %s", strings.Join(e.Fields, ", "))
}

// Is reports ErrInvalidRow as a match.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidRow
}
