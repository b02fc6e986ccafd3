// Package paper validates research-paper references and market questions.
// A reference is either a DOI or an arXiv identifier.
package paper

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Field limits, enforced at market creation.
const (
	MaxReferenceLen = 50
	MaxQuestionLen  = 200
)

// Reference kinds.
const (
	KindDOI   = "doi"
	KindArxiv = "arxiv"
)

// doiRegex matches a DOI: 10.{registrant}/{suffix}
// Example: 10.1038/s41586-021-03819-2
var doiRegex = regexp.MustCompile(`^10\.\d{4,9}/\S+$`)

// arxivRegex matches a modern arXiv identifier: YYMM.NNNNN with an optional
// version. Example: 2207.04630v2
var arxivRegex = regexp.MustCompile(`^(?:arXiv:)?(\d{4}\.\d{4,5})(v\d+)?$`)

var (
	ErrInvalidReference = errors.New("paper: reference must be a DOI or arXiv id")
	ErrReferenceTooLong = errors.New("paper: reference too long")
	ErrQuestionEmpty    = errors.New("paper: question must not be empty")
	ErrQuestionTooLong  = errors.New("paper: question too long")
)

// Reference is a parsed paper identifier.
type Reference struct {
	Raw  string `json:"raw"`
	Kind string `json:"kind"`
	ID   string `json:"id"` // canonical form, version stripped for arXiv
}

// ParseReference parses and validates a paper reference string.
func ParseReference(raw string) (*Reference, error) {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) > MaxReferenceLen {
		return nil, fmt.Errorf("%w: %d chars (max %d)", ErrReferenceTooLong, len(trimmed), MaxReferenceLen)
	}

	if doiRegex.MatchString(trimmed) {
		return &Reference{Raw: raw, Kind: KindDOI, ID: trimmed}, nil
	}

	if m := arxivRegex.FindStringSubmatch(trimmed); m != nil {
		return &Reference{Raw: raw, Kind: KindArxiv, ID: m[1]}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrInvalidReference, trimmed)
}

// ValidateQuestion checks the market question text.
func ValidateQuestion(q string) error {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return ErrQuestionEmpty
	}
	if len(trimmed) > MaxQuestionLen {
		return fmt.Errorf("%w: %d chars (max %d)", ErrQuestionTooLong, len(trimmed), MaxQuestionLen)
	}
	return nil
}
