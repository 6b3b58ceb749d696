package sanitize

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"
	"go.uber.org/zap"
)

// Config controls secret scrubbing.
type Config struct {
	// Enabled turns detection on. A disabled scrubber passes text
	// through unchanged and skips loading the ruleset.
	Enabled bool
}

// Scrubber redacts detected secrets from text using the gitleaks
// default ruleset.
type Scrubber struct {
	enabled  bool
	detector *detect.Detector
	logger   *zap.Logger
}

// NewScrubber builds a scrubber. The ruleset is parsed once here, not
// per call.
func NewScrubber(cfg Config, logger *zap.Logger) (*Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scrubber{enabled: cfg.Enabled, logger: logger}
	if !cfg.Enabled {
		return s, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("sanitize: loading gitleaks ruleset: %w", err)
	}
	s.detector = detector
	return s, nil
}

// Enabled reports whether detection runs.
func (s *Scrubber) Enabled() bool {
	return s.enabled
}

// Scrub replaces every detected secret with a redaction marker. Clean
// text comes back unchanged.
func (s *Scrubber) Scrub(text string) string {
	if !s.enabled || text == "" {
		return text
	}

	start := time.Now()
	findings := s.detector.DetectString(text)
	observeScrub(start, findings)
	if len(findings) == 0 {
		return text
	}

	s.logger.Debug("redacted secrets",
		zap.Int("findings", len(findings)),
		zap.Strings("rules", ruleIDs(findings)))
	return redactFindings(text, findings)
}

// redactFindings replaces secret values with [REDACTED:rule:preview]
// markers. Replacement is by value rather than reported position, so
// every occurrence of a leaked value disappears; longer secrets go
// first so a secret containing another is not half-redacted.
func redactFindings(text string, findings []report.Finding) string {
	rules := make(map[string]string, len(findings))
	secrets := make([]string, 0, len(findings))
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		if _, seen := rules[f.Secret]; seen {
			continue
		}
		rules[f.Secret] = f.RuleID
		secrets = append(secrets, f.Secret)
	}

	sort.Slice(secrets, func(i, j int) bool {
		if len(secrets[i]) != len(secrets[j]) {
			return len(secrets[i]) > len(secrets[j])
		}
		return secrets[i] < secrets[j]
	})

	for _, secret := range secrets {
		marker := "[REDACTED:" + rules[secret] + ":" + preview(secret) + "]"
		text = strings.ReplaceAll(text, secret, marker)
	}
	return text
}

// preview keeps the first few characters, usually a recognizable
// prefix, so readers can tell what kind of credential was removed.
func preview(secret string) string {
	const n = 4
	if len(secret) <= n {
		return secret
	}
	return secret[:n]
}

func ruleIDs(findings []report.Finding) []string {
	seen := make(map[string]bool, len(findings))
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		if !seen[f.RuleID] {
			seen[f.RuleID] = true
			ids = append(ids, f.RuleID)
		}
	}
	sort.Strings(ids)
	return ids
}
