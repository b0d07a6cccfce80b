package cli

import (
	"errors"

	"github.com/roach88/arla/internal/aql"
	"github.com/roach88/arla/internal/compiler"
	"github.com/roach88/arla/internal/engine"
)

// Error codes reported in CLIError.Code.
const (
	ErrCodeGeneric = "E001"
	ErrCodeConfig  = "E002" // config file missing or invalid
	ErrCodeSchema  = "E003" // CUE declarations failed to compile
	ErrCodeStore   = "E004" // projection could not be opened or migrated
	ErrCodeWAL     = "E005" // log could not be opened or read
	ErrCodeArgs    = "E006" // malformed command arguments

	ErrCodeQuerySyntax    = "E101"
	ErrCodeQueryInvalid   = "E102"
	ErrCodeQueryExecution = "E103"

	ErrCodeMutationInvalid = "E201" // no such action, invalid action, malformed mutation
	ErrCodeMutationUser    = "E202" // rejected by an action or hook
	ErrCodeUniqueViolation = "E203"
	ErrCodeStorage         = "E204"
	ErrCodeNonTermination  = "E205" // transform or hook loop
	ErrCodeTransform       = "E206"
	ErrCodeNotLogged       = "E207" // applied but not appended

	ErrCodeStoreMismatch = "E301"
	ErrCodeNotSynced     = "E302"

	ErrCodePublish = "E401"

	ErrCodeTestFailed = "E501"
)

// commandError tags err with a code and exit status for classify.
type commandError struct {
	code string
	exit int
	err  error
}

func (e *commandError) Error() string { return e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }

func tag(code string, exit int, err error) error {
	if err == nil {
		return nil
	}
	return &commandError{code: code, exit: exit, err: err}
}

type classification struct {
	code    string
	exit    int
	details any
}

// classify maps an error to its CLI code and exit status.
func classify(err error) classification {
	var (
		cmdErr *commandError
		ce     *compiler.CompileError
		qe     *aql.QueryError
		me     *engine.MutationError
		ue     *engine.UserError
		cfgErr *engine.ConfigError
	)
	switch {
	case errors.As(err, &cfgErr):
		if cfgErr.Code == engine.ErrCodeStoreMismatch {
			return classification{code: ErrCodeStoreMismatch, exit: ExitCommandError}
		}
		return classification{code: ErrCodeConfig, exit: ExitCommandError}
	case errors.Is(err, engine.ErrNotSynced):
		return classification{code: ErrCodeNotSynced, exit: ExitCommandError}
	case errors.As(err, &ce):
		details := map[string]any{"field": ce.Field}
		if ce.Pos.IsValid() {
			details["file"] = ce.Pos.Filename()
			details["line"] = ce.Pos.Line()
			details["column"] = ce.Pos.Column()
		}
		return classification{code: ErrCodeSchema, exit: ExitCommandError, details: details}
	case errors.As(err, &qe):
		details := map[string]any{"kind": string(qe.Code)}
		if qe.Line > 0 {
			details["line"] = qe.Line
			details["column"] = qe.Column
		}
		if qe.Property != "" {
			details["property"] = qe.Property
		}
		switch qe.Code {
		case aql.ErrCodeSyntax:
			return classification{code: ErrCodeQuerySyntax, exit: ExitFailure, details: details}
		case aql.ErrCodeExecution:
			return classification{code: ErrCodeQueryExecution, exit: ExitFailure, details: details}
		default:
			return classification{code: ErrCodeQueryInvalid, exit: ExitFailure, details: details}
		}
	case errors.As(err, &me):
		details := map[string]any{"kind": string(me.Code)}
		return classification{code: mutationCode(me.Code), exit: ExitFailure, details: details}
	case errors.As(err, &ue):
		return classification{code: ErrCodeMutationUser, exit: ExitFailure}
	case errors.As(err, &cmdErr):
		return classification{code: cmdErr.code, exit: cmdErr.exit}
	default:
		return classification{code: ErrCodeGeneric, exit: ExitFailure}
	}
}

func mutationCode(c engine.MutationErrorCode) string {
	switch c {
	case engine.ErrCodeUniqueViolation:
		return ErrCodeUniqueViolation
	case engine.ErrCodeStorage:
		return ErrCodeStorage
	case engine.ErrCodeNonTermination:
		return ErrCodeNonTermination
	case engine.ErrCodeTransform:
		return ErrCodeTransform
	case engine.ErrCodeNotLogged:
		return ErrCodeNotLogged
	default:
		return ErrCodeMutationInvalid
	}
}
