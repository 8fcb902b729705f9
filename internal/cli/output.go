package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Exit codes for CLI commands.
const (
	ExitFailure      = 1
	ExitCommandError = 2 // bad flags, unreadable config or database
)

// ExitError carries the process exit code for a failed command.
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

func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error, ExitFailure if it has none.
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
	ErrWriter io.Writer
	Verbose   bool
}

// CLIResponse is the JSON envelope of every command.
type CLIResponse struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data,omitempty"`
}

// Success writes data as a JSON envelope, or calls text for human output.
func (f *OutputFormatter) Success(data interface{}, text func(w io.Writer)) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{Status: "ok", Data: data})
	}
	text(f.Writer)
	return nil
}

// VerboseLog writes to ErrWriter only in verbose mode.
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
