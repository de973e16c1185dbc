package core

// error_messages.go maps pipeline failures to user-facing messages with
// support codes.
//
// # Error Codes Reference
//
// When users report an error they can quote the code to support staff.
//
// # File Errors (FILE001-FILE099)
//
//	FILE001 - File too large: the upload exceeds the configured size limit
//	          Action: Remove unused sheets or rows and try again
//	FILE002 - Unsupported type: the declared media type is not a spreadsheet
//	          Action: Save the file as .xlsx (or .xls) and attach it again
//	FILE003 - Unreadable workbook: bytes are not a spreadsheet or the sheet is missing
//	          Action: Open the file in a spreadsheet program and save it again
//	FILE004 - No file: the request carried no file
//	          Patterns: "no file provided"
//
// # Template Errors (TPL001-TPL099)
//
//	TPL001 - Format mismatch: a header cell differs from the reference template
//	         Action: Download the template and copy your data into it
//	TPL002 - Empty data: the header matches but there are no data rows
//	         Action: Add at least one data row below the header
//
// # Validation Errors (VAL001-VAL099)
//
//	VAL002 - Invalid number: a number field holds text
//	VAL003 - Required field: a required field is empty
//	VAL007 - Too long: a text field exceeds its maximum length
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL002 - System busy: too many uploads in progress
//	         Patterns: "too many concurrent uploads"
//	UPL004 - Request cancelled
//	         Patterns: "context canceled"
//	UPL005 - Request timeout
//	         Patterns: "context deadline exceeded"
//
// # Template Registry (TBL001-TBL099)
//
//	TBL002 - Unknown template
//	         Patterns: "unknown template"
//
// # Rate Limiting (RATE001)
//
//	RATE001 - Too many requests
//	          Patterns: "rate limit"
//
// # Default Error (ERR000)
//
// Fallback when the error is neither a recognised pipeline failure nor
// matches a pattern. Check application logs for the technical error.
//
// Recognised pipeline errors keep their own text as the message; the table
// below only contributes the action and code. Unrecognised errors are
// matched case-insensitively with strings.Contains; first match wins.

import (
	"fmt"
	"strings"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string `json:"message"` // What happened (user-friendly)
	Action  string `json:"action"`  // What to do about it
	Code    string `json:"code"`    // Error code for support reference
}

// kindGuidance supplies action and code for recognised pipeline errors.
var kindGuidance = map[Kind]UserMessage{
	KindFileTooLarge: {
		Action: "Remove unused sheets or rows and try again",
		Code:   "FILE001",
	},
	KindUnsupportedType: {
		Action: "Save the file as .xlsx (or .xls) and attach it again",
		Code:   "FILE002",
	},
	KindParse: {
		Action: "Open the file in a spreadsheet program and save it again",
		Code:   "FILE003",
	},
	KindFormatMismatch: {
		Action: "Download the template and copy your data into it",
		Code:   "TPL001",
	},
	KindEmptyData: {
		Action: "Add at least one data row below the header",
		Code:   "TPL002",
	},
	KindType: {
		Action: "Enter a plain number without units or currency symbols",
		Code:   "VAL002",
	},
	KindRequiredField: {
		Action: "Fill in every required column",
		Code:   "VAL003",
	},
	KindMaxLength: {
		Action: "Shorten the value and try again",
		Code:   "VAL007",
	},
}

// errorPattern defines a pattern to match and its corresponding user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns maps technical error text (case-insensitive) to user messages.
// More specific patterns come first.
var errorPatterns = []errorPattern{
	{
		pattern: "no file provided",
		msg: UserMessage{
			Message: "No file was selected",
			Action:  "Please select a spreadsheet to upload",
			Code:    "FILE004",
		},
	},
	{
		pattern: "too many concurrent uploads",
		msg: UserMessage{
			Message: "System is busy processing other uploads",
			Action:  "Please wait a moment and try again",
			Code:    "UPL002",
		},
	},
	{
		pattern: "context canceled",
		msg: UserMessage{
			Message: "Request was cancelled",
			Action:  "Please try again",
			Code:    "UPL004",
		},
	},
	{
		pattern: "context deadline exceeded",
		msg: UserMessage{
			Message: "Request timed out",
			Action:  "Try uploading a smaller file or check your connection",
			Code:    "UPL005",
		},
	},
	{
		pattern: "unknown template",
		msg: UserMessage{
			Message: "Unknown template",
			Action:  "This template is not configured",
			Code:    "TBL002",
		},
	},
	{
		pattern: "rate limit",
		msg: UserMessage{
			Message: "Too many requests",
			Action:  "Please wait a moment before trying again",
			Code:    "RATE001",
		},
	},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message.
//
// Recognised pipeline errors keep their own text and get the action and code
// of their kind. Other errors are matched against known patterns; if nothing
// matches, the generic ERR000 message is returned.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	if kind, ok := KindOf(err); ok {
		msg := kindGuidance[kind]
		msg.Message = FailureMessage(err, "")
		return msg
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// MapFailure is MapError for pipeline outcomes: unrecognised failures carry
// the template's fallback message instead of the generic one.
func MapFailure(err error, fallback string) UserMessage {
	msg := MapError(err)
	if msg.Code == defaultMessage.Code {
		msg.Message = FailureMessage(err, fallback)
	}
	return msg
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something more specific than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err and keeps the original for logging via Unwrap.
// Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
