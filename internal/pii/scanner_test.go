package pii

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astroline/platform/gateway/internal/retrieval"
)

func TestNewRuleScannerFromEnvDisabled(t *testing.T) {
	t.Setenv("SCAN_DISABLED", "true")

	assert.Nil(t, NewRuleScannerFromEnv())
}

func TestScanDocumentBlockedMetadataDefaults(t *testing.T) {
	scanner := NewRuleScannerFromEnv()
	require.NotNil(t, scanner)

	doc := retrieval.Document{
		ID:       "d1",
		Tenant:   "acme",
		Text:     "sun in leo",
		Metadata: map[string]string{"Credit_Card": "4111"},
	}
	err := scanner.ScanDocument(context.Background(), doc)
	require.Error(t, err)

	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "blocked_metadata", violation.Rule)
}

func TestScanDocumentBlockedTerm(t *testing.T) {
	t.Setenv("SCAN_BLOCKED_TERMS", "social security, api_key")
	scanner := NewRuleScannerFromEnv()

	doc := retrieval.Document{
		ID:     "d1",
		Tenant: "acme",
		Text:   "my Social Security number is hidden in my birth chart",
	}
	err := scanner.ScanDocument(context.Background(), doc)
	require.Error(t, err)

	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "blocked_term", violation.Rule)
}

func TestScanDocumentMaxTextSize(t *testing.T) {
	t.Setenv("SCAN_MAX_TEXT_SIZE", "10")
	scanner := NewRuleScannerFromEnv()

	doc := retrieval.Document{
		ID:     "d1",
		Tenant: "acme",
		Text:   "far longer than ten bytes",
	}
	err := scanner.ScanDocument(context.Background(), doc)
	require.Error(t, err)

	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "max_text_size", violation.Rule)
}

func TestScanDocumentCleanPasses(t *testing.T) {
	t.Setenv("SCAN_BLOCKED_TERMS", "api_key")
	scanner := NewRuleScannerFromEnv()

	doc := retrieval.Document{
		ID:     "d1",
		Tenant: "acme",
		Text:   "mercury enters retrograde on the third",
	}
	assert.NoError(t, scanner.ScanDocument(context.Background(), doc))
}

func TestScanDocumentRequiresID(t *testing.T) {
	scanner := NewRuleScannerFromEnv()

	err := scanner.ScanDocument(context.Background(), retrieval.Document{Tenant: "acme"})
	require.Error(t, err)

	var violation *Violation
	assert.False(t, errors.As(err, &violation))
}

func TestScanPromptBlockedTerm(t *testing.T) {
	t.Setenv("SCAN_BLOCKED_TERMS", "password")
	scanner := NewRuleScannerFromEnv()

	err := scanner.ScanPrompt(context.Background(), "acme", "my password is hunter2, what does my chart say")
	require.Error(t, err)

	var violation *Violation
	require.True(t, errors.As(err, &violation))
	assert.Equal(t, "blocked_term", violation.Rule)
}

func TestMonitorModeNotEnforced(t *testing.T) {
	t.Setenv("SCAN_MODE", "monitor")
	scanner := NewRuleScannerFromEnv()

	assert.False(t, scanner.Enforced())

	t.Setenv("SCAN_MODE", "")
	assert.True(t, NewRuleScannerFromEnv().Enforced())
}
