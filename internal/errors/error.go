package errors

import (
	"bufio"
	stderrors "errors"
	"fmt"
	"os"

	"github.com/vango-dev/stan/pkg/stan"
)

// Category represents the type of error.
type Category string

const (
	CategoryGraph    Category = "graph"
	CategoryResolve  Category = "resolve"
	CategoryConfig   Category = "config"
	CategoryScenario Category = "scenario"
	CategoryCLI      Category = "cli"
)

// Location represents a position in a source file.
type Location struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column,omitempty"`
}

// String returns the location as a formatted string.
func (l *Location) String() string {
	if l == nil {
		return ""
	}
	if l.Column > 0 {
		return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
	}
	return fmt.Sprintf("%s:%d", l.File, l.Line)
}

// StanError is a coded diagnostic with an optional source location and fix
// suggestion.
type StanError struct {
	// Code is a unique error identifier (e.g., "S001").
	Code string

	// Category is the error type.
	Category Category

	// Message is a short description of the error.
	Message string

	// Detail is a longer explanation of the error.
	Detail string

	// Location is the source position where the error was found.
	Location *Location

	// Context contains surrounding source lines.
	Context []string

	// Suggestion is a hint on how to fix the error.
	Suggestion string

	// Wrapped is the underlying error, if any.
	Wrapped error
}

// Error implements the error interface.
func (e *StanError) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = e.Code + ": " + msg
	}
	if e.Wrapped != nil {
		msg += ": " + e.Wrapped.Error()
	}
	return msg
}

// Unwrap returns the wrapped error for errors.Is/As support.
func (e *StanError) Unwrap() error {
	return e.Wrapped
}

// WithLocation adds a source location and the lines around it.
func (e *StanError) WithLocation(file string, line, column int) *StanError {
	e.Location = &Location{File: file, Line: line, Column: column}
	e.Context = readContextLines(file, line, 5)
	return e
}

// WithSuggestion adds a fix suggestion to the error.
func (e *StanError) WithSuggestion(s string) *StanError {
	e.Suggestion = s
	return e
}

// WithDetail replaces the detailed explanation.
func (e *StanError) WithDetail(d string) *StanError {
	e.Detail = d
	return e
}

// Wrap wraps another error.
func (e *StanError) Wrap(err error) *StanError {
	e.Wrapped = err
	return e
}

// LineColumn converts a byte offset into data, as reported by
// encoding/json, into a 1-based line and column.
func LineColumn(data []byte, offset int64) (line, column int) {
	line, column = 1, 1
	for i := int64(0); i < offset-1 && i < int64(len(data)); i++ {
		if data[i] == '\n' {
			line++
			column = 1
			continue
		}
		column++
	}
	return line, column
}

// readContextLines reads lines around the specified line number from a file.
func readContextLines(filename string, targetLine, contextSize int) []string {
	file, err := os.Open(filename)
	if err != nil {
		return nil
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	lineNum := 0
	startLine := targetLine - contextSize/2
	endLine := targetLine + contextSize/2

	for scanner.Scan() {
		lineNum++
		if lineNum >= startLine && lineNum <= endLine {
			lines = append(lines, scanner.Text())
		}
		if lineNum > endLine {
			break
		}
	}
	return lines
}

// New creates a StanError from a registered error code.
func New(code string) *StanError {
	template, ok := registry[code]
	if !ok {
		return &StanError{
			Code:    code,
			Message: "Unknown error",
		}
	}
	return &StanError{
		Code:     code,
		Category: template.Category,
		Message:  template.Message,
		Detail:   template.Detail,
	}
}

// Newf creates a StanError with a formatted message and no code.
func Newf(category Category, format string, args ...any) *StanError {
	return &StanError{
		Category: category,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps err in a StanError with code, unless it already is one.
func FromError(err error, code string) *StanError {
	if err == nil {
		return nil
	}
	var se *StanError
	if stderrors.As(err, &se) {
		return se
	}
	return New(code).Wrap(err)
}

// FromStan classifies an error returned by package stan. Errors that are
// not stan errors are reported as resolution failures.
func FromStan(err error) *StanError {
	if err == nil {
		return nil
	}
	var se *StanError
	if stderrors.As(err, &se) {
		return se
	}

	var (
		cycle   *stan.CycleError
		noWrite *stan.WriteWithoutUpdaterError
		typeErr *stan.TypeError
		resErr  *stan.ResolutionError
	)
	switch {
	case stderrors.As(err, &cycle):
		return New("S001").Wrap(err).
			WithSuggestion("Break the cycle so that no cell reads itself, directly or through other cells")
	case stderrors.As(err, &noWrite):
		return New("S002").Wrap(err).
			WithSuggestion(fmt.Sprintf("Set one of the cells %s reads instead, or give it an updater", noWrite.DebugID))
	case stderrors.As(err, &typeErr):
		return New("S004").Wrap(err)
	case stderrors.Is(err, stan.ErrRegistryClosed):
		return New("S005").Wrap(err)
	case stderrors.As(err, &resErr):
		return New("S003").Wrap(err).
			WithDetail(fmt.Sprintf("The resolver of %s failed. Cells depending on it fail with the same error until it succeeds.", resErr.DebugID))
	default:
		return New("S003").Wrap(err)
	}
}
