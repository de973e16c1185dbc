package core

// errors.go defines the failure kinds of the upload pipeline.
//
// Every stage returns one of the typed errors below instead of panicking.
// The typed errors are "recognised": their Error() text is written for the
// person who uploaded the file and is shown as-is. Anything else (I/O
// problems, template misconfiguration, a panicking transform) is replaced by
// the template's fallback message.

import (
	"errors"
	"fmt"
)

// DefaultErrorMessage is shown when a failure carries no user-facing text
// and the template does not configure a fallback.
const DefaultErrorMessage = "Please attach a file that matches the template."

// Kind classifies recognised pipeline failures.
type Kind string

const (
	KindUnsupportedType Kind = "unsupported_type"
	KindFileTooLarge    Kind = "file_too_large"
	KindParse           Kind = "parse"
	KindFormatMismatch  Kind = "format_mismatch"
	KindEmptyData       Kind = "empty_data"
	KindRequiredField   Kind = "required_field"
	KindMaxLength       Kind = "max_length"
	KindType            Kind = "type"
)

// recognizedError is implemented by every error whose text is meant for users.
type recognizedError interface {
	error
	Kind() Kind
}

var (
	// ErrReferenceTooShort means the reference grid has fewer rows than the
	// header window. It is a template misconfiguration, not a user error.
	ErrReferenceTooShort = errors.New("reference grid is shorter than the header window")

	// ErrUnknownTemplate is returned for template keys that are not registered.
	ErrUnknownTemplate = errors.New("unknown template")
)

// UnsupportedTypeError is returned when the declared media type of the
// uploaded file is not an accepted spreadsheet type.
type UnsupportedTypeError struct {
	MediaType string
}

func (e *UnsupportedTypeError) Error() string {
	if e.MediaType == "" {
		return "The file type could not be determined. Please attach an .xls or .xlsx file."
	}
	return fmt.Sprintf("Files of type %q are not accepted. Please attach an .xls or .xlsx file.", e.MediaType)
}

func (e *UnsupportedTypeError) Kind() Kind { return KindUnsupportedType }

// FileTooLargeError is returned when an upload exceeds the size limit.
type FileTooLargeError struct {
	Size  int64
	Limit int64
}

func (e *FileTooLargeError) Error() string {
	return fmt.Sprintf("The file is too large (%d bytes, limit %d bytes).", e.Size, e.Limit)
}

func (e *FileTooLargeError) Kind() Kind { return KindFileTooLarge }

// ParseError is returned when bytes cannot be read as a spreadsheet or the
// requested sheet does not exist.
type ParseError struct {
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	return "The spreadsheet could not be read: " + e.Reason + "."
}

func (e *ParseError) Unwrap() error { return e.Err }

func (e *ParseError) Kind() Kind { return KindParse }

// FormatMismatchError is returned when a cell of the header window differs
// from the reference. Row and Col are zero-based grid positions.
type FormatMismatchError struct {
	Row     int
	Col     int
	Want    string
	Got     string
	Missing bool // The uploaded grid has no cell at this position
}

func (e *FormatMismatchError) Error() string {
	if e.Missing {
		return fmt.Sprintf("The file does not match the template: row %d, column %d should be %q but is missing.",
			e.Row+1, e.Col+1, e.Want)
	}
	return fmt.Sprintf("The file does not match the template: row %d, column %d should be %q but is %q.",
		e.Row+1, e.Col+1, e.Want, e.Got)
}

func (e *FormatMismatchError) Kind() Kind { return KindFormatMismatch }

// EmptyDataError is returned when the upload matches the header window but
// carries no rows after it.
type EmptyDataError struct {
	HeaderRows int
}

func (e *EmptyDataError) Error() string {
	return "The file matches the template but contains no data rows."
}

func (e *EmptyDataError) Kind() Kind { return KindEmptyData }

// RequiredFieldError is returned when a required field is empty.
type RequiredFieldError struct {
	Field   string
	Message string // Custom message from the field spec
}

func (e *RequiredFieldError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s is required.", e.Field)
}

func (e *RequiredFieldError) Kind() Kind { return KindRequiredField }

// MaxLengthError is returned when a string field is longer than allowed.
type MaxLengthError struct {
	Field   string
	Max     int
	Message string // Custom message from the field spec
}

func (e *MaxLengthError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s must be at most %d characters.", e.Field, e.Max)
}

func (e *MaxLengthError) Kind() Kind { return KindMaxLength }

// TypeError is returned when a value cannot be read as the field's type.
type TypeError struct {
	Field string
	Type  FieldType
	Value string
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("%s must be a %s (got %q).", e.Field, e.Type, e.Value)
}

func (e *TypeError) Kind() Kind { return KindType }

// RowError attaches the position of the offending row to a field error.
// Error returns the field error's text unchanged so users see the rule's
// own message; Idx is available for logs.
type RowError struct {
	Idx int
	Err error
}

func (e *RowError) Error() string { return e.Err.Error() }

func (e *RowError) Unwrap() error { return e.Err }

// KindOf returns the kind of the first recognised error in err's chain.
func KindOf(err error) (Kind, bool) {
	var re recognizedError
	if errors.As(err, &re) {
		return re.Kind(), true
	}
	return "", false
}

// FailureMessage converts any pipeline failure to the single message shown
// to the user: the recognised error's own text, otherwise fallback, otherwise
// DefaultErrorMessage.
func FailureMessage(err error, fallback string) string {
	var re recognizedError
	if errors.As(err, &re) {
		return re.Error()
	}
	if fallback != "" {
		return fallback
	}
	return DefaultErrorMessage
}
