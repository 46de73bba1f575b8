package links

import (
	"errors"
	"fmt"
)

// Code identifies why a link was rejected.
type Code string

const (
	// CodeType: an endpoint is missing or the link type is unknown.
	CodeType Code = "LINK_TYPE"

	CodeSelfLink     Code = "SELF_LINK"
	CodeMissingUUID  Code = "MISSING_UUID"
	CodeLabel        Code = "INVALID_LABEL"
	CodeIncompatible Code = "INCOMPATIBLE_NODES"
	CodeOutdegree    Code = "OUTDEGREE"
	CodeIndegree     Code = "INDEGREE"
	CodeTriple       Code = "DUPLICATE_TRIPLE"
	CodeCycle        Code = "CYCLE"
)

// LinkError describes a rejected link.
type LinkError struct {
	Code    Code
	Message string
}

// Error implements the error interface.
func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newError(code Code, format string, args ...any) *LinkError {
	return &LinkError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func codeOf(err error) (Code, bool) {
	var le *LinkError
	if errors.As(err, &le) {
		return le.Code, true
	}
	return "", false
}

// IsTypeError reports a missing endpoint or unknown link type.
func IsTypeError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeType
}

// IsValueError reports any rejection other than a type error.
func IsValueError(err error) bool {
	code, ok := codeOf(err)
	return ok && code != CodeType
}

// IsUniquenessError reports a degree violation.
func IsUniquenessError(err error) bool {
	code, ok := codeOf(err)
	return ok && (code == CodeOutdegree || code == CodeIndegree || code == CodeTriple)
}

// IsCycleError reports a link that would close a provenance cycle.
func IsCycleError(err error) bool {
	code, ok := codeOf(err)
	return ok && code == CodeCycle
}
