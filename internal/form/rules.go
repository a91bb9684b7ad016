package form

// rules.go evaluates a field value against its rule set.
//
// Order is fixed: required, then (only for non-empty values) email, phone,
// minLength, maxLength, pattern and the custom check. The first failing rule
// wins.

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"github.com/JonMunkholm/erpshell/internal/value"
)

// Default messages.
const (
	MsgRequired     = "This field is required"
	MsgInvalidEmail = "Please enter a valid email address"
	MsgInvalidPhone = "Please enter a valid phone number"
	MsgMinLength    = "Must be at least %d characters"
	MsgMaxLength    = "Must be at most %d characters"
	MsgPattern      = "Invalid format"
	MsgCustom       = "Invalid value"
	MsgFileTooLarge = "File exceeds the maximum allowed size"
	MsgFileType     = "File type is not allowed"
)

var (
	validate   = validator.New()
	phoneRegex = regexp.MustCompile(`^\+?\d{10,15}$`)
)

// Check is a custom rule. It returns a message, or "" when the value passes.
type Check interface {
	Check(v value.Value, s State) string
}

// CheckFunc adapts a function to Check.
type CheckFunc func(v value.Value, s State) string

func (f CheckFunc) Check(v value.Value, s State) string { return f(v, s) }

// Messages overrides the default message of individual rules.
type Messages struct {
	Required  string
	Email     string
	Phone     string
	MinLength string
	MaxLength string
	Pattern   string
}

// Rules is the validation rule set of a field. Zero MinLength/MaxLength
// disable the length checks.
type Rules struct {
	Required  bool
	Email     bool
	Phone     bool
	MinLength int
	MaxLength int
	Pattern   *regexp.Regexp
	Custom    Check
	Messages  Messages
}

func pick(override, def string) string {
	if override != "" {
		return override
	}
	return def
}

// ValidateValue returns the message of the first failing rule, or "".
func ValidateValue(v value.Value, r Rules, s State) string {
	if v.IsEmpty() {
		if r.Required {
			return pick(r.Messages.Required, MsgRequired)
		}
		return ""
	}

	str := v.String()

	if r.Email && !IsEmail(str) {
		return pick(r.Messages.Email, MsgInvalidEmail)
	}
	if r.Phone && !IsPhone(str) {
		return pick(r.Messages.Phone, MsgInvalidPhone)
	}

	n := utf8.RuneCountInString(str)
	if r.MinLength > 0 && n < r.MinLength {
		return pick(r.Messages.MinLength, fmt.Sprintf(MsgMinLength, r.MinLength))
	}
	if r.MaxLength > 0 && n > r.MaxLength {
		return pick(r.Messages.MaxLength, fmt.Sprintf(MsgMaxLength, r.MaxLength))
	}

	if r.Pattern != nil && !r.Pattern.MatchString(str) {
		return pick(r.Messages.Pattern, MsgPattern)
	}

	if r.Custom != nil {
		return r.Custom.Check(v, s)
	}
	return ""
}

// IsEmail reports whether s is a syntactically valid email address.
func IsEmail(s string) bool {
	return validate.Var(strings.TrimSpace(s), "email") == nil
}

// IsPhone reports whether s is 10 to 15 digits with an optional leading +,
// ignoring whitespace.
func IsPhone(s string) bool {
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return phoneRegex.MatchString(stripped)
}
