package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"

	"github.com/roach88/aiida/internal/archive"
	"github.com/roach88/aiida/internal/config"
	"github.com/roach88/aiida/internal/graph"
	"github.com/roach88/aiida/internal/store"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation rejected (validation, licensing, uniqueness)
	ExitCommandError = 2 // Command error (bad flags, missing files, unreadable profile)
)

// Error codes reported in CLI output.
const (
	ErrCodeGeneric          = "E001" // Generic/unknown error
	ErrCodeConfig           = "E002" // Invalid or unreadable configuration
	ErrCodeProfile          = "E003" // Storage or repository could not be opened
	ErrCodeInvalidArgs      = "E004" // Invalid flags or arguments
	ErrCodeNotFound         = "E005" // Entity or file not found
	ErrCodeArchiveExists    = "E101" // Output archive already exists
	ErrCodeExportValidation = "E102" // Export selection failed validation
	ErrCodeLicensing        = "E103" // Node license rejected
	ErrCodeImportValidation = "E111" // Archive content failed validation
	ErrCodeUniqueness       = "E112" // No unique label could be found
	ErrCodeIncompatible     = "E113" // Archive version not supported
	ErrCodeKeyFormat        = "E114" // Archive and profile key formats differ
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
	Message string // Error message
	Err     error  // Underlying error (optional)
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

// classify maps an operation error to its CLI error code and exit code.
func classify(err error) (string, int) {
	var (
		cfgErr  *config.ValidationError
		ruleErr *graph.RuleError
	)
	switch {
	case errors.As(err, &cfgErr):
		return ErrCodeConfig, ExitCommandError
	case errors.As(err, &ruleErr):
		return ErrCodeInvalidArgs, ExitCommandError
	case errors.Is(err, archive.ErrArchiveExists):
		return ErrCodeArchiveExists, ExitCommandError
	case errors.Is(err, archive.ErrKeyFormatMismatch):
		return ErrCodeKeyFormat, ExitFailure
	case errors.Is(err, store.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ErrCodeNotFound, ExitCommandError
	case archive.IsLicensingError(err):
		return ErrCodeLicensing, ExitFailure
	case archive.IsExportValidationError(err):
		return ErrCodeExportValidation, ExitFailure
	case archive.IsUniquenessError(err):
		return ErrCodeUniqueness, ExitFailure
	case archive.IsImportValidationError(err):
		return ErrCodeImportValidation, ExitFailure
	case archive.IsIncompatibleSchema(err):
		return ErrCodeIncompatible, ExitFailure
	default:
		return ErrCodeGeneric, ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // "E001", "E002", etc.
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Report outputs data as JSON, or calls text to render it for humans.
func (f *OutputFormatter) Report(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	text(f.Writer)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
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

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err and returns the ExitError the command should return.
func (f *OutputFormatter) Fail(message string, err error) error {
	code, exit := classify(err)
	var details any
	var ve *archive.ExportValidationError
	if errors.As(err, &ve) && len(ve.NodeIDs) > 0 {
		details = map[string]any{"node_ids": ve.NodeIDs}
	}
	_ = f.Error(code, fmt.Sprintf("%s: %v", message, err), details)
	return WrapExitError(exit, message, err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
