// Package pii runs content-policy checks over tenant documents and chat
// prompts before they reach the retrieval stores.
package pii

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

// Violation describes a content-policy failure.
type Violation struct {
	Rule   string
	Detail string
}

func (v *Violation) Error() string {
	return fmt.Sprintf("content violation (%s): %s", v.Rule, v.Detail)
}

// Scanner executes policy checks on documents and prompts.
type Scanner interface {
	ScanDocument(ctx context.Context, doc retrieval.Document) error
	ScanPrompt(ctx context.Context, tenant, prompt string) error
	Enforced() bool
}

// RuleScanner performs simple term/metadata/size checks.
type RuleScanner struct {
	blockedTerms      [][]byte
	blockedMetadata   map[string]struct{}
	maxTextSize       uint64
	enforceViolations bool
}

// NewRuleScannerFromEnv builds a scanner from environment variables.
// It can be disabled entirely via SCAN_DISABLED=true.
func NewRuleScannerFromEnv() Scanner {
	if strings.EqualFold(os.Getenv("SCAN_DISABLED"), "true") {
		return nil
	}

	s := &RuleScanner{
		blockedMetadata: map[string]struct{}{
			"ssn":         {},
			"credit_card": {},
			"password":    {},
		},
		maxTextSize:       0,
		enforceViolations: !strings.EqualFold(os.Getenv("SCAN_MODE"), "monitor"),
	}

	if raw := os.Getenv("SCAN_BLOCKED_TERMS"); raw != "" {
		for _, term := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(term); trimmed != "" {
				s.blockedTerms = append(s.blockedTerms, []byte(strings.ToLower(trimmed)))
			}
		}
	}

	if raw := os.Getenv("SCAN_BLOCKED_METADATA_KEYS"); raw != "" {
		s.blockedMetadata = make(map[string]struct{})
		for _, k := range strings.Split(raw, ",") {
			k = strings.ToLower(strings.TrimSpace(k))
			if k != "" {
				s.blockedMetadata[k] = struct{}{}
			}
		}
	}

	if raw := os.Getenv("SCAN_MAX_TEXT_SIZE"); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 64); err == nil {
			s.maxTextSize = v
		}
	}

	// Keep scanner allocated even if no explicit rules were provided so we
	// can still block default metadata keys.
	return s
}

func (s *RuleScanner) Enforced() bool {
	return s.enforceViolations
}

func (s *RuleScanner) ScanDocument(_ context.Context, doc retrieval.Document) error {
	if doc.ID == "" {
		return errors.New("document id required")
	}
	if s.maxTextSize > 0 && uint64(len(doc.Text)) > s.maxTextSize {
		return &Violation{
			Rule:   "max_text_size",
			Detail: fmt.Sprintf("text size %d exceeds limit %d", len(doc.Text), s.maxTextSize),
		}
	}
	if len(s.blockedMetadata) > 0 {
		for key := range doc.Metadata {
			if _, blocked := s.blockedMetadata[strings.ToLower(key)]; blocked {
				return &Violation{
					Rule:   "blocked_metadata",
					Detail: fmt.Sprintf("metadata key %q is restricted", key),
				}
			}
		}
	}
	return s.scanText(doc.Text)
}

func (s *RuleScanner) ScanPrompt(_ context.Context, tenant, prompt string) error {
	if s.maxTextSize > 0 && uint64(len(prompt)) > s.maxTextSize {
		return &Violation{
			Rule:   "max_text_size",
			Detail: fmt.Sprintf("prompt size %d exceeds limit %d", len(prompt), s.maxTextSize),
		}
	}
	return s.scanText(prompt)
}

func (s *RuleScanner) scanText(text string) error {
	if len(s.blockedTerms) == 0 || text == "" {
		return nil
	}
	lowered := strings.ToLower(text)
	for _, term := range s.blockedTerms {
		if len(term) == 0 {
			continue
		}
		if strings.Contains(lowered, string(term)) {
			return &Violation{
				Rule:   "blocked_term",
				Detail: fmt.Sprintf("text matched blocked term %q", term),
			}
		}
	}
	return nil
}
