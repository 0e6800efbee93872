package audit

import (
	"regexp"
	"sort"
)

// SecretType names the kind of credential found in an audit message
type SecretType string

const (
	SecretTypeAPIKey       SecretType = "api_key"
	SecretTypeOpenAIKey    SecretType = "openai_key"
	SecretTypeAnthropicKey SecretType = "anthropic_key"
	SecretTypeGCPKey       SecretType = "gcp_key"
	SecretTypeAWSKey       SecretType = "aws_key"
	SecretTypeBearer       SecretType = "bearer_token"
	SecretTypeJWT          SecretType = "jwt"
	SecretTypeGitHubToken  SecretType = "github_token"
	SecretTypeDatabaseURL  SecretType = "database_url"
)

type secretPattern struct {
	kind    SecretType
	pattern *regexp.Regexp
}

// Ordered from most to least specific; the first match over a span wins.
var secretPatterns = []secretPattern{
	{SecretTypeAnthropicKey, regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}`)},
	{SecretTypeOpenAIKey, regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`)},
	{SecretTypeGCPKey, regexp.MustCompile(`\bAIza[0-9A-Za-z\-_]{35}\b`)},
	{SecretTypeAWSKey, regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{SecretTypeJWT, regexp.MustCompile(`\beyJ[A-Za-z0-9_\-]+\.eyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`)},
	{SecretTypeGitHubToken, regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{SecretTypeBearer, regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9_\-\.=]{16,}`)},
	{SecretTypeAPIKey, regexp.MustCompile(`(?i)(?:api[_\-]?key|x-goog-api-key|key)["']?\s*[:=]\s*["']?[A-Za-z0-9_\-]{16,}["']?`)},
	{SecretTypeDatabaseURL, regexp.MustCompile(`(?i)(?:postgres|postgresql|mysql|mongodb|redis)://[^\s'"]+:[^\s'"]+@[^\s'"]+`)},
}

// SecretDetection is one credential found in a text
type SecretDetection struct {
	Type     SecretType
	StartPos int
	EndPos   int
}

// DetectSecrets returns the non-overlapping credentials found in text,
// ordered by position
func DetectSecrets(text string) []SecretDetection {
	var detections []SecretDetection
	for _, p := range secretPatterns {
		for _, m := range p.pattern.FindAllStringIndex(text, -1) {
			if overlaps(detections, m[0], m[1]) {
				continue
			}
			detections = append(detections, SecretDetection{Type: p.kind, StartPos: m[0], EndPos: m[1]})
		}
	}
	sort.Slice(detections, func(i, j int) bool {
		return detections[i].StartPos < detections[j].StartPos
	})
	return detections
}

// RedactSecrets replaces every detected credential with a typed placeholder.
// Upstream error bodies sometimes echo the key that was sent, and audit rows
// outlive the request.
func RedactSecrets(text string) string {
	detections := DetectSecrets(text)
	if len(detections) == 0 {
		return text
	}

	out := make([]byte, 0, len(text))
	last := 0
	for _, d := range detections {
		out = append(out, text[last:d.StartPos]...)
		out = append(out, "[REDACTED_"...)
		out = append(out, d.Type...)
		out = append(out, ']')
		last = d.EndPos
	}
	out = append(out, text[last:]...)
	return string(out)
}

func overlaps(detections []SecretDetection, start, end int) bool {
	for _, d := range detections {
		if start < d.EndPos && end > d.StartPos {
			return true
		}
	}
	return false
}
