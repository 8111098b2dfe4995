package mapping

import (
	"fmt"
	"strings"
)

// Validation error codes.
const (
	CodeMissingField = "MissingField"
	CodeInvalidField = "InvalidField"
)

// ValidationError names a lead field that blocks submission. Field is the
// portal parameter name so operators see the portal's own vocabulary.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s:%s (%s)", e.Code, e.Field, e.Message)
}

// JoinErrors renders a validation error list as one line for logs and
// queue last_error columns.
func JoinErrors(errs []ValidationError) string {
	parts := make([]string, len(errs))
	for i, e := range errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}
