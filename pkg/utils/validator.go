package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRegex   = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
	controlChars = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ValidateEmail validates an email address
func ValidateEmail(email string) error {
	if !emailRegex.MatchString(strings.TrimSpace(email)) {
		return fmt.Errorf("invalid email format: %s", email)
	}
	return nil
}

// SanitizeString removes control characters and caps the length. A
// non-positive max leaves the length alone.
func SanitizeString(s string, max int) string {
	sanitized := strings.TrimSpace(controlChars.ReplaceAllString(s, ""))
	if max > 0 && len([]rune(sanitized)) > max {
		sanitized = string([]rune(sanitized)[:max])
	}
	return sanitized
}
