package engine

import (
	"fmt"
	"strings"
)

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ConflictError reports an operation rejected because the target is already
// in the state the operation would produce.
type ConflictError struct {
	Resource string
	ID       string
	Reason   string
}

func (e ConflictError) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Resource, e.ID, e.Reason)
}

// SchemaError wraps database failures caused by a missing table or index so
// callers can surface a remediation hint instead of a bare 500.
type SchemaError struct {
	Hint string
	Err  error
}

func (e SchemaError) Error() string {
	return e.Err.Error()
}

func (e SchemaError) Unwrap() error {
	return e.Err
}

func classifyQueryError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such index") || strings.Contains(msg, "no such column") {
		return SchemaError{Hint: "schema out of date; run `upkeep migrate`", Err: err}
	}
	return err
}
