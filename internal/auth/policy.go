package auth

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Violation codes are returned to authenticated callers so the UI can render
// a specific message per failed rule.
type Violation string

const (
	ViolationTooShort         Violation = "TOO_SHORT"
	ViolationMissingUpper     Violation = "MISSING_UPPER"
	ViolationMissingDigit     Violation = "MISSING_DIGIT"
	ViolationMissingSpecial   Violation = "MISSING_SPECIAL"
	ViolationContainsUsername Violation = "CONTAINS_USERNAME"
	ViolationReused           Violation = "REUSED"
)

const (
	minPasswordLength = 10

	// HistoryDepth is the number of prior hashes a new password is compared
	// against, and the number of rows the credential store retains per user.
	HistoryDepth = 5
)

const specialRunes = `!@#$%^&*()-_=+[]{};:'",.<>/?~` + "`" + `\|`

// Policy validates candidate passwords. It is stateless: history rows are
// passed in and never mutated here.
type Policy struct {
	hasher PasswordHasher
}

func NewPolicy(hasher PasswordHasher) *Policy {
	return &Policy{hasher: hasher}
}

// Validate returns every violated rule, or an empty slice when the candidate
// is acceptable. history holds the user's most recent password hashes,
// newest first.
func (p *Policy) Validate(candidate, username string, history []string) []Violation {
	var violations []Violation

	if utf8.RuneCountInString(candidate) < minPasswordLength {
		violations = append(violations, ViolationTooShort)
	}

	var hasUpper, hasDigit, hasSpecial bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(specialRunes, r):
			hasSpecial = true
		}
	}
	if !hasUpper {
		violations = append(violations, ViolationMissingUpper)
	}
	if !hasDigit {
		violations = append(violations, ViolationMissingDigit)
	}
	if !hasSpecial {
		violations = append(violations, ViolationMissingSpecial)
	}

	if username != "" && strings.Contains(strings.ToLower(candidate), strings.ToLower(username)) {
		violations = append(violations, ViolationContainsUsername)
	}

	for i, hash := range history {
		if i >= HistoryDepth {
			break
		}
		if p.hasher.Compare(hash, candidate) == nil {
			violations = append(violations, ViolationReused)
			break
		}
	}

	return violations
}

// ViolationStrings converts violations for the error envelope.
func ViolationStrings(violations []Violation) []string {
	out := make([]string, len(violations))
	for i, v := range violations {
		out[i] = string(v)
	}
	return out
}
