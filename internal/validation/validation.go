// Package validation provides centralized input validation for versionstore.
//
// Version ids become part of storage keys, so they are held to stricter
// rules than branch and tag names, which only live inside the index.
package validation

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/xtxerr/versionstore/internal/constants"
	"github.com/xtxerr/versionstore/internal/errors"
)

// =============================================================================
// Name Validation
// =============================================================================

// NameRules defines the validation rules for identifiers.
type NameRules struct {
	MinLength     int
	MaxLength     int
	AllowDots     bool
	AllowHyphens  bool
	AllowUnders   bool
	AllowSlashes  bool
	ReservedParts []string
}

// VersionIDRules returns the rules for version ids. The chunk key suffixes
// are reserved so that no version key can alias a chunk of another.
func VersionIDRules() NameRules {
	return NameRules{
		MinLength:     1,
		MaxLength:     255,
		AllowDots:     true,
		AllowHyphens:  true,
		AllowUnders:   true,
		ReservedParts: []string{constants.ChunkMetaSuffix, constants.ChunkSuffix},
	}
}

// BranchRules returns the rules for branch names.
func BranchRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    255,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
		AllowSlashes: true,
	}
}

// TagRules returns the rules for tag names.
func TagRules() NameRules {
	return NameRules{
		MinLength:    1,
		MaxLength:    128,
		AllowDots:    true,
		AllowHyphens: true,
		AllowUnders:  true,
	}
}

// ValidateName validates a name according to the given rules.
func ValidateName(name string, rules NameRules) error {
	if len(name) < rules.MinLength {
		return fmt.Errorf("name too short: minimum %d characters required", rules.MinLength)
	}
	if len(name) > rules.MaxLength {
		return fmt.Errorf("name too long: maximum %d characters allowed", rules.MaxLength)
	}

	if name == "." || name == ".." {
		return fmt.Errorf("name cannot be '.' or '..'")
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("name cannot start with '.'")
	}

	if rules.AllowSlashes && (strings.HasPrefix(name, "/") || strings.HasSuffix(name, "/") || strings.Contains(name, "//")) {
		return fmt.Errorf("name cannot have empty path segments")
	}

	for i, r := range name {
		if r < 32 || r == 127 {
			return fmt.Errorf("name cannot contain control characters at position %d", i)
		}
		if r == '\\' || (r == '/' && !rules.AllowSlashes) {
			return fmt.Errorf("name cannot contain path separators at position %d", i)
		}
		if !isAllowedNameChar(r, rules) {
			return fmt.Errorf("invalid character '%c' at position %d", r, i)
		}
	}

	for _, part := range rules.ReservedParts {
		if strings.Contains(name, part) {
			return fmt.Errorf("name cannot contain reserved sequence '%s'", part)
		}
	}

	return nil
}

func isAllowedNameChar(r rune, rules NameRules) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) {
		return true
	}
	switch r {
	case '.':
		return rules.AllowDots
	case '-':
		return rules.AllowHyphens
	case '_':
		return rules.AllowUnders
	case '/':
		return rules.AllowSlashes
	}
	return false
}

// =============================================================================
// Identifier Validation
// =============================================================================

// ValidateVersionID validates a version id.
func ValidateVersionID(id string) error {
	if id == "" {
		return errors.ErrMissingID
	}
	if err := ValidateName(id, VersionIDRules()); err != nil {
		return fmt.Errorf("version id %q: %w: %v", id, errors.ErrInvalidName, err)
	}
	return nil
}

// ValidateBranchName validates a branch name. The empty name is the
// unnamed default branch.
func ValidateBranchName(name string) error {
	if name == "" {
		return nil
	}
	if err := ValidateName(name, BranchRules()); err != nil {
		return fmt.Errorf("branch %q: %w: %v", name, errors.ErrInvalidName, err)
	}
	return nil
}

// ValidateTagName validates a tag name.
func ValidateTagName(name string) error {
	if err := ValidateName(name, TagRules()); err != nil {
		return fmt.Errorf("tag %q: %w: %v", name, errors.ErrInvalidName, err)
	}
	return nil
}

// ValidateTags validates every tag and rejects duplicates.
func ValidateTags(tags []string) error {
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if err := ValidateTagName(t); err != nil {
			return err
		}
		if seen[t] {
			return fmt.Errorf("tag %q: %w: listed twice", t, errors.ErrInvalidName)
		}
		seen[t] = true
	}
	return nil
}
