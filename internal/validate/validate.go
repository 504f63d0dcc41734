// Package validate provides request input validation for the subtitle API.
package validate

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/tubetext/tubetext/internal/keys"
)

// ValidationError describes a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// MultiError collects multiple validation errors for a single request.
type MultiError struct {
	Errors []ValidationError
}

// Add appends a validation error. If err is nil, Add is a no-op.
func (m *MultiError) Add(err error) {
	if err == nil {
		return
	}
	if ve, ok := err.(*ValidationError); ok {
		m.Errors = append(m.Errors, *ve)
	} else {
		m.Errors = append(m.Errors, ValidationError{Field: "request", Message: err.Error()})
	}
}

// HasErrors reports whether any errors have been collected.
func (m *MultiError) HasErrors() bool { return len(m.Errors) > 0 }

// Error returns a pipe-delimited summary of all errors.
func (m *MultiError) Error() string {
	parts := make([]string, len(m.Errors))
	for i, e := range m.Errors {
		parts[i] = e.Error()
	}
	return strings.Join(parts, " | ")
}

// NonEmptyString validates that value is not empty or whitespace-only.
func NonEmptyString(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}

// MaxLength validates that value does not exceed max rune count.
func MaxLength(field, value string, max int) error {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must not exceed %d characters", max)}
	}
	return nil
}

// VideoID validates an 11-character YouTube video ID.
func VideoID(field, value string) error {
	if !keys.ValidVideoID(value) {
		return &ValidationError{Field: field, Message: "must be a valid 11-character YouTube video ID"}
	}
	return nil
}

// VideoURLOrID accepts either a bare video ID or any YouTube URL form and
// returns the extracted 11-character ID.
func VideoURLOrID(field, value string) (string, error) {
	v := strings.TrimSpace(value)
	if keys.ValidVideoID(v) {
		return v, nil
	}
	if id := keys.ExtractVideoID(v); id != "" {
		return id, nil
	}
	return "", &ValidationError{Field: field, Message: "must be a YouTube video ID or URL"}
}

// languageCodeRE matches ISO 639-1 codes with an optional region or script
// subtag, matching what YouTube serves (en, en-US, zh-Hans, fil).
var languageCodeRE = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2,8})?$`)

// LanguageCode validates a subtitle language code.
func LanguageCode(field, value string) error {
	if !languageCodeRE.MatchString(strings.TrimSpace(value)) {
		return &ValidationError{Field: field, Message: "must be a valid language code (e.g. en, en-US, pt-BR)"}
	}
	return nil
}

// WebhookURL validates a callback URL: absolute, http or https, with a host.
// Delivery targets are caller-controlled by design, so private addresses are
// allowed here; operators restrict egress at the network layer.
func WebhookURL(field, value string) error {
	v := strings.TrimSpace(value)
	u, err := url.ParseRequestURI(v)
	if err != nil || u.Host == "" {
		return &ValidationError{Field: field, Message: "must be a valid absolute URL"}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ValidationError{Field: field, Message: "must use http or https"}
	}
	return nil
}

// IntInRange validates that value is within [min, max] inclusive.
func IntInRange(field string, value, min, max int) error {
	if value < min || value > max {
		return &ValidationError{Field: field, Message: fmt.Sprintf("must be between %d and %d", min, max)}
	}
	return nil
}

// BatchSize validates a batch request's video count.
func BatchSize(field string, n int) error {
	if n < 1 || n > 100 {
		return &ValidationError{Field: field, Message: "must contain between 1 and 100 video IDs"}
	}
	return nil
}
