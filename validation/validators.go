package validation

import (
	"fmt"
	"path"
	"regexp"
	"strings"
	"unicode"
)

// Common validation patterns
var (
	// Project ID must be alphanumeric with hyphens, underscores
	projectIDPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

	// Branch names draw from a restricted charset; position rules are checked separately
	branchCharsetPattern = regexp.MustCompile(`^[a-zA-Z0-9._/-]+$`)

	invalidBranchChars = regexp.MustCompile(`[^a-zA-Z0-9._/-]+`)
)

const maxBranchNameLength = 255

// ValidationError represents a validation error with field information
type ValidationError struct {
	Field      string
	Message    string
	Suggestion string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

// ValidateProjectID validates a project ID. It becomes a directory name
// under the repositories root, so path separators are never allowed.
func ValidateProjectID(id string) error {
	if id == "" {
		return ValidationError{Field: "project_id", Message: "project ID cannot be empty"}
	}

	if len(id) > 64 {
		return ValidationError{Field: "project_id", Message: "project ID must not exceed 64 characters"}
	}

	if !projectIDPattern.MatchString(id) {
		return ValidationError{Field: "project_id", Message: "project ID must be alphanumeric with hyphens or underscores, starting with alphanumeric"}
	}

	return nil
}

// ValidateBranchName validates a branch name. Failures carry a corrected
// suggestion when one can be derived.
func ValidateBranchName(name string) error {
	if err := checkBranchName(name); err != nil {
		err.Suggestion = SuggestBranchName(name)
		return *err
	}
	return nil
}

func checkBranchName(name string) *ValidationError {
	if name == "" {
		return &ValidationError{Field: "branch", Message: "branch name cannot be empty"}
	}

	if len(name) > maxBranchNameLength {
		return &ValidationError{Field: "branch", Message: fmt.Sprintf("branch name must not exceed %d characters", maxBranchNameLength)}
	}

	if !branchCharsetPattern.MatchString(name) {
		return &ValidationError{Field: "branch", Message: "branch name may only contain letters, digits, '.', '_', '-' and '/'"}
	}

	for _, c := range []string{"-", ".", "/"} {
		if strings.HasPrefix(name, c) || strings.HasSuffix(name, c) {
			return &ValidationError{Field: "branch", Message: fmt.Sprintf("branch name cannot start or end with '%s'", c)}
		}
	}

	if strings.Contains(name, "..") {
		return &ValidationError{Field: "branch", Message: "branch name cannot contain consecutive periods"}
	}

	if strings.Contains(name, "//") {
		return &ValidationError{Field: "branch", Message: "branch name cannot contain consecutive slashes"}
	}

	if strings.HasSuffix(name, ".lock") {
		return &ValidationError{Field: "branch", Message: "branch name cannot end with '.lock'"}
	}

	for _, part := range strings.Split(name, "/") {
		if strings.HasPrefix(part, ".") {
			return &ValidationError{Field: "branch", Message: "branch name components cannot start with '.'"}
		}
	}

	return nil
}

// SuggestBranchName derives a valid branch name from an invalid one, or
// returns "" when nothing usable is left.
func SuggestBranchName(name string) string {
	s := strings.TrimSpace(name)
	s = invalidBranchChars.ReplaceAllString(s, "-")
	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	for strings.Contains(s, "//") {
		s = strings.ReplaceAll(s, "//", "/")
	}
	for strings.Contains(s, "--") {
		s = strings.ReplaceAll(s, "--", "-")
	}
	s = strings.ReplaceAll(s, "/.", "/")
	s = strings.Trim(s, "-./")
	s = strings.TrimSuffix(s, ".lock")
	s = strings.Trim(s, "-./")
	if len(s) > maxBranchNameLength {
		s = strings.Trim(s[:maxBranchNameLength], "-./")
	}
	if s == "" || checkBranchName(s) != nil {
		return ""
	}
	return s
}

// ValidateFilePath validates a project-relative file path
func ValidateFilePath(p string) error {
	if p == "" {
		return ValidationError{Field: "path", Message: "file path cannot be empty"}
	}

	if len(p) > 4096 {
		return ValidationError{Field: "path", Message: "file path too long"}
	}

	if strings.Contains(p, "\x00") {
		return ValidationError{Field: "path", Message: "null bytes in path are not allowed"}
	}

	if strings.HasPrefix(p, "/") || strings.Contains(p, "\\") || (len(p) >= 2 && p[1] == ':') {
		return ValidationError{Field: "path", Message: "absolute paths are not allowed"}
	}

	cleaned := path.Clean(strings.TrimSuffix(p, "/"))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return ValidationError{Field: "path", Message: "path traversal detected"}
	}

	for _, part := range strings.Split(cleaned, "/") {
		if part == ".." {
			return ValidationError{Field: "path", Message: "path traversal detected"}
		}
		if part == ".git" {
			return ValidationError{Field: "path", Message: "'.git' is reserved"}
		}
	}

	return nil
}

// ValidateCommitMessage validates a commit message
func ValidateCommitMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return ValidationError{Field: "message", Message: "commit message cannot be empty"}
	}

	if len(message) > 100000 { // 100KB limit
		return ValidationError{Field: "message", Message: "commit message too long (max 100KB)"}
	}

	for _, r := range message {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return ValidationError{Field: "message", Message: "commit message contains invalid control characters"}
		}
	}

	return nil
}
