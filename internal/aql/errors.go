package aql

import (
	"errors"
	"fmt"
	"strings"
)

// QueryError is a compile-time failure of a query document.
//
// Syntax errors carry the line, column and offset reported by the parser
// and the offending source line as Context. Semantic errors (unknown
// property, misplaced filter) carry the position of the selection and the
// property name.
type QueryError struct {
	Code     QueryErrorCode
	Message  string
	Line     int
	Column   int
	Offset   int
	Context  string
	Property string

	cause error
}

// QueryErrorCode categorizes query errors.
type QueryErrorCode string

const (
	// ErrCodeSyntax indicates the document does not parse.
	ErrCodeSyntax QueryErrorCode = "SYNTAX"

	// ErrCodeInvalidFilter indicates a malformed or misplaced filter.
	ErrCodeInvalidFilter QueryErrorCode = "INVALID_FILTER"

	// ErrCodeConflict indicates two selections share a key but differ.
	ErrCodeConflict QueryErrorCode = "CONFLICTING_SELECTION"

	// ErrCodeUnknownProperty indicates a selection names no property.
	ErrCodeUnknownProperty QueryErrorCode = "UNKNOWN_PROPERTY"

	// ErrCodeInvalidArgument indicates a bad argument or placeholder.
	ErrCodeInvalidArgument QueryErrorCode = "INVALID_ARGUMENT"

	// ErrCodeExecution indicates the compiled statement failed to run.
	ErrCodeExecution QueryErrorCode = "EXECUTION"
)

// Error implements the error interface.
func (e *QueryError) Error() string {
	var b strings.Builder
	b.WriteString("query error")
	if e.Line > 0 {
		fmt.Fprintf(&b, " at %d:%d", e.Line, e.Column)
	}
	if e.Property != "" {
		fmt.Fprintf(&b, " (%s)", e.Property)
	}
	b.WriteString(": ")
	b.WriteString(e.Message)
	return b.String()
}

// Unwrap returns the driver error behind an execution failure.
func (e *QueryError) Unwrap() error {
	return e.cause
}

// ExecutionError reports that a compiled statement failed to run. The
// message stays stable; cause is kept for logs and errors.Unwrap.
func ExecutionError(cause error) *QueryError {
	return &QueryError{
		Code:    ErrCodeExecution,
		Message: "compiled statement failed to run",
		cause:   cause,
	}
}

// IsQueryError reports whether err is a QueryError.
// Uses errors.As to handle wrapped errors.
func IsQueryError(err error) bool {
	var qe *QueryError
	return errors.As(err, &qe)
}

// Errorf creates a QueryError for the selection n.
func Errorf(n *Node, code QueryErrorCode, format string, args ...any) *QueryError {
	qe := &QueryError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
	if n != nil {
		qe.Line = n.Pos.Line
		qe.Column = n.Pos.Column
		qe.Offset = n.Pos.Offset
		qe.Property = n.Key()
	}
	return qe
}

// sourceLine returns the 1-based line of text, for error context.
func sourceLine(text string, line int) string {
	lines := strings.Split(text, "\n")
	if line < 1 || line > len(lines) {
		return ""
	}
	return strings.TrimRight(lines[line-1], "\r")
}
