// Package apperr maps engine and host errors to user-facing messages.
//
// # Error Codes Reference
//
// Codes are grouped by category so users can quote them to support staff.
//
// # Table Errors (TBL001-TBL099)
//
//	TBL001 - Feature disabled: the action is turned off for this screen
//	TBL002 - No selection: a bulk action was requested with no rows selected
//	TBL003 - Not editing: commit or cancel without an active cell edit
//	TBL004 - Unknown record: the row id is not in the current data set
//	TBL005 - Not editable: the column does not accept inline edits
//	TBL006 - No handler: the host does not implement the action
//	TBL007 - Screen not found: no screen is registered under the id
//	TBL008 - Unknown column: the column does not exist or does not support the action
//	TBL009 - Unknown bulk action: the screen does not offer the action
//	TBL010 - Unsupported export format
//
// # Form Errors (FRM001-FRM099)
//
//	FRM001 - Submitting: a submission is already in flight
//	FRM002 - Completed: the form was submitted and must be reset
//	FRM003 - Disposed: the wizard session has ended
//	FRM004 - Step invalid: the current step has field errors
//	FRM005 - Step skip: jumping ahead more than one step is disabled
//	FRM006 - Step range: the step index does not exist
//	FRM007 - First step: there is no previous step
//	FRM008 - Last step: there is no next step
//	FRM009 - Unknown field: the field name does not exist
//	FRM010 - Upload in flight: uploads must finish before submitting
//
// # Upload Errors (UPL001-UPL099)
//
//	UPL001 - Not a file field
//	UPL002 - Upload rejected by size or type constraints
//	UPL003 - No upload in progress for the field
//	UPL004 - Too many concurrent uploads
//	UPL005 - Request cancelled
//	UPL006 - Request timed out
//
// # Validation and Session Errors
//
//	VAL001 - Invalid date
//	VAL002 - Invalid number
//	VAL003 - Malformed request body
//	SES001 - Session expired or unknown
//	RATE001 - Too many requests
//
// # Default Error (ERR000)
//
// Fallback when nothing matches. Support staff should check the logs for
// the original error when users report ERR000.
//
// # Matching
//
// Sentinel errors from the table and form packages are matched with
// errors.Is first. Other errors fall through to case-insensitive substring
// patterns; the first match wins, so specific patterns come first.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/JonMunkholm/erpshell/internal/form"
	"github.com/JonMunkholm/erpshell/internal/table"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
	Status  int    // HTTP status the host should answer with
}

type sentinel struct {
	err error
	msg UserMessage
}

// sentinels are checked in order with errors.Is.
var sentinels = []sentinel{
	// Table engine
	{table.ErrFeatureDisabled, UserMessage{"This action is disabled for this screen", "Contact an administrator to enable it", "TBL001", http.StatusForbidden}},
	{table.ErrNoSelection, UserMessage{"No rows are selected", "Select one or more rows and try again", "TBL002", http.StatusBadRequest}},
	{table.ErrNotEditing, UserMessage{"No cell is being edited", "Start editing a cell first", "TBL003", http.StatusConflict}},
	{table.ErrUnknownRecord, UserMessage{"Record not found", "Refresh the table and try again", "TBL004", http.StatusNotFound}},
	{table.ErrNotEditable, UserMessage{"This column cannot be edited", "Edit the record from its detail view", "TBL005", http.StatusBadRequest}},
	{table.ErrNoHandler, UserMessage{"This action is not available", "The screen does not support this action", "TBL006", http.StatusNotImplemented}},

	// Form engine
	{form.ErrSubmitting, UserMessage{"The form is being submitted", "Wait for the submission to finish", "FRM001", http.StatusConflict}},
	{form.ErrCompleted, UserMessage{"The form was already submitted", "Start a new form to make changes", "FRM002", http.StatusConflict}},
	{form.ErrDisposed, UserMessage{"The form session has ended", "Open the form again", "FRM003", http.StatusGone}},
	{form.ErrStepInvalid, UserMessage{"Some fields need attention", "Fix the highlighted fields and continue", "FRM004", http.StatusUnprocessableEntity}},
	{form.ErrStepSkip, UserMessage{"Steps must be completed in order", "Continue with the next step", "FRM005", http.StatusBadRequest}},
	{form.ErrStepRange, UserMessage{"That step does not exist", "Choose a step from the list", "FRM006", http.StatusBadRequest}},
	{form.ErrFirstStep, UserMessage{"Already on the first step", "", "FRM007", http.StatusBadRequest}},
	{form.ErrLastStep, UserMessage{"Already on the last step", "Submit the form to finish", "FRM008", http.StatusBadRequest}},
	{form.ErrUnknownField, UserMessage{"Unknown field", "Reload the form and try again", "FRM009", http.StatusBadRequest}},
	{form.ErrUploadInFlight, UserMessage{"A file is still uploading", "Wait for the upload to finish or cancel it", "FRM010", http.StatusConflict}},

	// Uploads
	{form.ErrNotFileField, UserMessage{"This field does not accept files", "Choose a file field", "UPL001", http.StatusBadRequest}},
	{form.ErrUploadRejected, UserMessage{"The file was rejected", "Check the file size and type", "UPL002", http.StatusUnprocessableEntity}},
	{form.ErrNoUpload, UserMessage{"No upload in progress", "Start the upload again", "UPL003", http.StatusNotFound}},
}

type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns map technical error text (case-insensitive) to user messages.
var errorPatterns = []errorPattern{
	{"screen not found", UserMessage{"Screen not found", "Verify the screen name is correct", "TBL007", http.StatusNotFound}},
	{"unknown column", UserMessage{"Column not available", "The column does not exist or does not support this action", "TBL008", http.StatusBadRequest}},
	{"unknown bulk action", UserMessage{"Unknown bulk action", "Choose an action offered by the screen", "TBL009", http.StatusBadRequest}},
	{"unsupported export format", UserMessage{"Export format not supported", "Export as csv or json", "TBL010", http.StatusBadRequest}},
	{"too many concurrent uploads", UserMessage{"System is busy processing other uploads", "Please wait a moment and try again", "UPL004", http.StatusServiceUnavailable}},
	{"context canceled", UserMessage{"Request was cancelled", "Please try again", "UPL005", http.StatusRequestTimeout}},
	{"context deadline exceeded", UserMessage{"Request timed out", "Please try again", "UPL006", http.StatusGatewayTimeout}},
	{"invalid date", UserMessage{"Invalid date format detected", "Use YYYY-MM-DD", "VAL001", http.StatusBadRequest}},
	{"invalid number", UserMessage{"Invalid number format detected", "Remove currency symbols and use standard decimal format", "VAL002", http.StatusBadRequest}},
	{"invalid request body", UserMessage{"The request could not be read", "Send a valid JSON body", "VAL003", http.StatusBadRequest}},
	{"session not found", UserMessage{"Your session has expired", "Reload the page to start a new session", "SES001", http.StatusNotFound}},
	{"rate limit", UserMessage{"Too many requests", "Please wait a moment before trying again", "RATE001", http.StatusTooManyRequests}},
}

// defaultMessage is returned when nothing matches (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts a technical error to a user-friendly message.
// A nil error maps to the zero UserMessage.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}

	var ue *UserError
	if errors.As(err, &ue) {
		return ue.User
	}

	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, ep := range errorPatterns {
		if strings.Contains(errStr, ep.pattern) {
			return ep.msg
		}
	}

	return defaultMessage
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	if msg.Action == "" {
		return fmt.Sprintf("%s (Code: %s)", msg.Message, msg.Code)
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// IsUserFacing reports whether err maps to something other than ERR000.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	return MapError(err).Code != defaultMessage.Code
}

// UserError pairs a technical error with its user-facing message.
type UserError struct {
	Technical error
	User      UserMessage
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err and wraps it. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
