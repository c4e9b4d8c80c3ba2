package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/sourcery-ai-experiments/mulsi/internal/direction"
	"github.com/sourcery-ai-experiments/mulsi/internal/model"
	"github.com/sourcery-ai-experiments/mulsi/internal/steer"
	"github.com/sourcery-ai-experiments/mulsi/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Domain failure (expectation unmet, policy violation, ...)
	ExitCommandError = 2 // Command error (bad flags, missing files, unknown sets)
)

// Error codes surfaced in JSON output. One per taxonomy error plus a
// catch-all.
const (
	ErrCodeGeneric          = "E001"
	ErrCodeLayerNotFound    = "E002"
	ErrCodeForwardPass      = "E003"
	ErrCodeInsufficientData = "E004"
	ErrCodeShapeMismatch    = "E005"
	ErrCodeConflictingMode  = "E006"
	ErrCodeSetNotFound      = "E007"
)

// errorCode maps a domain error to its CLI error code.
func errorCode(err error) string {
	switch {
	case model.IsLayerNotFound(err):
		return ErrCodeLayerNotFound
	case model.IsForwardPassError(err):
		return ErrCodeForwardPass
	case direction.IsInsufficientData(err):
		return ErrCodeInsufficientData
	case steer.IsShapeMismatch(err):
		return ErrCodeShapeMismatch
	case steer.IsConflictingMode(err):
		return ErrCodeConflictingMode
	case errors.Is(err, store.ErrSetNotFound):
		return ErrCodeSetNotFound
	default:
		return ErrCodeGeneric
	}
}

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostic output; defaults to Writer
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string      `json:"status"` // "ok" or "error"
	Data   interface{} `json:"data,omitempty"`
	Error  *CLIError   `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data interface{}) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(CLIResponse{Status: "ok", Data: data})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details interface{}) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog outputs a message only if verbose mode is enabled.
// When format is JSON, diagnostics go to ErrWriter so stdout stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...interface{}) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// commandError reports err in the configured format and converts it to an
// ExitError carrying the right exit code for its kind: domain failures that
// a scenario author caused (policy conflicts) exit 1, everything else 2.
func commandError(f *OutputFormatter, err error) error {
	code := errorCode(err)
	_ = f.Error(code, err.Error(), nil)

	exitCode := ExitCommandError
	if code == ErrCodeConflictingMode {
		exitCode = ExitFailure
	}
	return WrapExitError(exitCode, code, err)
}
