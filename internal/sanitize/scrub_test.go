package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zricethezav/gitleaks/v8/report"
)

// Detection itself is the gitleaks default ruleset, which changes
// between releases; these tests pin our redaction behavior, not their
// patterns.

func TestRedactFindings(t *testing.T) {
	t.Run("single secret", func(t *testing.T) {
		text := `token = "ghp_abcdef1234"` + "\n"
		got := redactFindings(text, []report.Finding{
			{RuleID: "github-pat", Secret: "ghp_abcdef1234"},
		})
		assert.Equal(t, `token = "[REDACTED:github-pat:ghp_]"`+"\n", got)
		assert.NotContains(t, got, "ghp_abcdef1234")
	})

	t.Run("repeated secret disappears everywhere", func(t *testing.T) {
		text := "key=sk-proj-zzz then again sk-proj-zzz at the end"
		got := redactFindings(text, []report.Finding{
			{RuleID: "openai-api-key", Secret: "sk-proj-zzz"},
		})
		assert.NotContains(t, got, "sk-proj-zzz")
		assert.Equal(t, 2, strings.Count(got, "[REDACTED:openai-api-key:sk-p]"))
	})

	t.Run("longer secret wins over contained one", func(t *testing.T) {
		text := "short=abc1234 long=abc1234567890"
		got := redactFindings(text, []report.Finding{
			{RuleID: "short-rule", Secret: "abc1234"},
			{RuleID: "long-rule", Secret: "abc1234567890"},
		})
		assert.NotContains(t, got, "abc1234567890")
		assert.Contains(t, got, "[REDACTED:long-rule:abc1]")
		assert.Contains(t, got, "[REDACTED:short-rule:abc1]")
	})

	t.Run("empty secrets skipped", func(t *testing.T) {
		text := "nothing to see"
		got := redactFindings(text, []report.Finding{{RuleID: "weird", Secret: ""}})
		assert.Equal(t, text, got)
	})

	t.Run("tiny secret previewed whole", func(t *testing.T) {
		got := redactFindings("pin=abc", []report.Finding{{RuleID: "pin", Secret: "abc"}})
		assert.Equal(t, "pin=[REDACTED:pin:abc]", got)
	})
}

func TestScrubberDisabled(t *testing.T) {
	s, err := NewScrubber(Config{Enabled: false}, nil)
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	text := `password = "hunter2"`
	assert.Equal(t, text, s.Scrub(text))
}

func TestScrubberCleanTextUnchanged(t *testing.T) {
	s, err := NewScrubber(Config{Enabled: true}, nil)
	require.NoError(t, err)
	assert.True(t, s.Enabled())

	text := "chunking splits documents into overlapping windows"
	assert.Equal(t, text, s.Scrub(text))
	assert.Equal(t, "", s.Scrub(""))
}
