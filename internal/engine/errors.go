package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/arla/internal/ir"
)

// UserError is a failure whose message is safe to show an end caller
// verbatim. Hook and action errors surface as UserError so the message the
// schema author chose is preserved.
type UserError struct {
	Message string
	cause   error
}

// NewUserError creates a UserError with the given message.
func NewUserError(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// Error implements the error interface.
func (e *UserError) Error() string {
	return e.Message
}

// Unwrap returns the underlying author error, if any.
func (e *UserError) Unwrap() error {
	return e.cause
}

// asUserError keeps an existing UserError and wraps anything else.
func asUserError(err error) error {
	var ue *UserError
	if errors.As(err, &ue) {
		return err
	}
	return &UserError{Message: err.Error(), cause: err}
}

// MutationErrorCode categorizes mutation failures.
type MutationErrorCode string

const (
	// ErrCodeInvalidMutation indicates a mutation without a name or version.
	ErrCodeInvalidMutation MutationErrorCode = "INVALID_MUTATION"

	// ErrCodeNoSuchAction indicates a well-formed name with no action.
	ErrCodeNoSuchAction MutationErrorCode = "NO_SUCH_ACTION"

	// ErrCodeInvalidAction indicates a malformed action name.
	ErrCodeInvalidAction MutationErrorCode = "INVALID_ACTION"

	// ErrCodeTransform indicates a version upgrade could not be performed.
	ErrCodeTransform MutationErrorCode = "TRANSFORM"

	// ErrCodeNonTermination indicates a loop exceeded its step budget.
	ErrCodeNonTermination MutationErrorCode = "NON_TERMINATION"

	// ErrCodeUniqueViolation indicates a unique constraint rejected a write.
	ErrCodeUniqueViolation MutationErrorCode = "UNIQUE_VIOLATION"

	// ErrCodeStorage indicates any other storage failure.
	ErrCodeStorage MutationErrorCode = "STORAGE"

	// ErrCodeNotLogged indicates the projection committed but the WAL
	// append failed.
	ErrCodeNotLogged MutationErrorCode = "NOT_LOGGED"
)

// MutationError is an execution-time failure of a mutation.
//
// Error() exposes only the normalized summary. The storage error that caused
// it is kept for logs and reachable through errors.Unwrap.
type MutationError struct {
	Code     MutationErrorCode
	Message  string
	Mutation ir.Mutation
	cause    error
}

// Error implements the error interface.
func (e *MutationError) Error() string {
	if e.Mutation.Name == "" || e.Code == ErrCodeInvalidAction {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s (mutation=%s)", e.Code, e.Message, e.Mutation)
}

// Unwrap returns the underlying cause.
func (e *MutationError) Unwrap() error {
	return e.cause
}

func mutationError(m ir.Mutation, code MutationErrorCode, cause error, format string, args ...any) *MutationError {
	return &MutationError{
		Code:     code,
		Message:  fmt.Sprintf(format, args...),
		Mutation: m,
		cause:    cause,
	}
}

// ConfigErrorCode categorizes fatal startup conditions.
type ConfigErrorCode string

const (
	// ErrCodeAlreadyInitialized indicates a registry already owned by an engine.
	ErrCodeAlreadyInitialized ConfigErrorCode = "ALREADY_INITIALIZED"

	// ErrCodeStoreMismatch indicates the projection was built from another WAL.
	ErrCodeStoreMismatch ConfigErrorCode = "STORE_MISMATCH"

	// ErrCodeMissingConfig indicates required configuration is absent.
	ErrCodeMissingConfig ConfigErrorCode = "MISSING_CONFIG"

	// ErrCodeInvalidConfig indicates configuration that cannot be used.
	ErrCodeInvalidConfig ConfigErrorCode = "INVALID_CONFIG"
)

// ConfigError aborts startup. It is never returned for an individual query
// or mutation.
type ConfigError struct {
	Code    ConfigErrorCode
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func configError(code ConfigErrorCode, format string, args ...any) *ConfigError {
	return &ConfigError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsUserError reports whether err is a UserError.
// Uses errors.As to handle wrapped errors.
func IsUserError(err error) bool {
	var ue *UserError
	return errors.As(err, &ue)
}

// IsMutationError reports whether err is a MutationError.
func IsMutationError(err error) bool {
	var me *MutationError
	return errors.As(err, &me)
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsUniqueViolation reports whether err is a unique-constraint MutationError.
func IsUniqueViolation(err error) bool {
	return mutationCode(err) == ErrCodeUniqueViolation
}

// IsNonTermination reports whether err is a step-budget MutationError.
func IsNonTermination(err error) bool {
	return mutationCode(err) == ErrCodeNonTermination
}

// IsStoreMismatch reports whether err is a store identity mismatch.
func IsStoreMismatch(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) && ce.Code == ErrCodeStoreMismatch
}

func mutationCode(err error) MutationErrorCode {
	var me *MutationError
	if errors.As(err, &me) {
		return me.Code
	}
	return ""
}
