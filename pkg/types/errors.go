// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "fmt"

// ParamError reports an invalid run parameter. It always carries the
// parameter name and the offending value so callers can surface both.
type ParamError struct {
	Param  string
	Value  any
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s=%v: %s", e.Param, e.Value, e.Reason)
}

// paramErr is a shorthand used by Validate.
func paramErr(param string, value any, format string, args ...any) *ParamError {
	return &ParamError{Param: param, Value: value, Reason: fmt.Sprintf(format, args...)}
}
