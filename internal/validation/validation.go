// Package validation provides input validation for the PesaLock API.
//
// Field rules are declared in one static table per operation, so the
// whole input surface can be reviewed in one place.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxStringLength is the maximum length for free-text fields
const MaxStringLength = 1000

var (
	// idRegex validates internal resource IDs (prefix + hex).
	idRegex = regexp.MustCompile(`^[a-z]{2,4}_[a-f0-9]{8,32}$`)
	// msisdnRegex validates phone numbers in E.164 form.
	msisdnRegex = regexp.MustCompile(`^\+?[1-9][0-9]{7,14}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks whether a string is a well-formed resource ID.
func IsValidID(id string) bool {
	return idRegex.MatchString(id)
}

// IsValidMSISDN checks whether a string is a plausible phone number.
func IsValidMSISDN(s string) bool {
	return msisdnRegex.MatchString(s)
}

// FieldError reports one invalid field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface
func (e FieldErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Rule validates one field value. A nil return means the value passed.
type Rule func(field, value string) *FieldError

// FieldRule binds a named field to its rules.
type FieldRule struct {
	Field string
	Rules []Rule
}

// Rules is the static table of field rules per operation. It is data,
// not code: reviewers audit the input surface here.
var Rules = map[string][]FieldRule{
	"order.create": {
		{Field: "amount", Rules: []Rule{Required, Amount}},
		{Field: "description", Rules: []Rule{MaxLen(MaxStringLength)}},
	},
	"order.dispute": {
		{Field: "reason", Rules: []Rule{Required, MaxLen(MaxStringLength)}},
	},
	"order.resolve": {
		{Field: "winner", Rules: []Rule{Required, OneOf("buyer", "settler")}},
	},
	"funding.submit": {
		{Field: "type", Rules: []Rule{Required, OneOf("deposit", "withdrawal")}},
		{Field: "amount", Rules: []Rule{Required, Amount}},
	},
	"funding.push": {
		{Field: "msisdn", Rules: []Rule{Required, MSISDN}},
		{Field: "amount", Rules: []Rule{Required, Amount}},
	},
	"webhook.subscribe": {
		{Field: "url", Rules: []Rule{Required, URL}},
		{Field: "secret", Rules: []Rule{Required, MaxLen(128)}},
	},
}

// Check validates the named operation's fields against the rule table.
// A nil return means every field passed.
func Check(operation string, fields map[string]string) FieldErrors {
	var errs FieldErrors
	for _, fr := range Rules[operation] {
		value := fields[fr.Field]
		for _, rule := range fr.Rules {
			if fe := rule(fr.Field, value); fe != nil {
				errs = append(errs, *fe)
				break
			}
		}
	}
	return errs
}

// Required rejects empty values.
func Required(field, value string) *FieldError {
	if strings.TrimSpace(value) == "" {
		return &FieldError{Field: field, Message: "is required"}
	}
	return nil
}

// Amount accepts a positive decimal with at most two fractional digits.
func Amount(field, value string) *FieldError {
	if value == "" {
		return nil // Use Required for required fields
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return &FieldError{Field: field, Message: "must be a decimal number"}
	}
	if !d.IsPositive() {
		return &FieldError{Field: field, Message: "must be greater than zero"}
	}
	if !d.Round(2).Equal(d) {
		return &FieldError{Field: field, Message: "has more than two decimal places"}
	}
	return nil
}

// MSISDN validates a phone number.
func MSISDN(field, value string) *FieldError {
	if value == "" {
		return nil
	}
	if !IsValidMSISDN(value) {
		return &FieldError{Field: field, Message: "must be a phone number in international format"}
	}
	return nil
}

// URL requires an absolute http(s) URL.
func URL(field, value string) *FieldError {
	if value == "" {
		return nil
	}
	if !strings.HasPrefix(value, "http://") && !strings.HasPrefix(value, "https://") {
		return &FieldError{Field: field, Message: "must be an absolute http(s) URL"}
	}
	return nil
}

// MaxLen rejects values longer than max bytes.
func MaxLen(max int) Rule {
	return func(field, value string) *FieldError {
		if len(value) > max {
			return &FieldError{Field: field, Message: "exceeds maximum length"}
		}
		return nil
	}
}

// OneOf restricts a value to a fixed set.
func OneOf(allowed ...string) Rule {
	return func(field, value string) *FieldError {
		if value == "" {
			return nil
		}
		for _, a := range allowed {
			if value == a {
				return nil
			}
		}
		return &FieldError{Field: field, Message: "must be one of: " + strings.Join(allowed, ", ")}
	}
}

// SanitizeString trims whitespace, strips null bytes, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	s = strings.ReplaceAll(s, "\x00", "")
	return s
}
