// Package safety screens untrusted text at the two trust boundaries of
// the content pipeline: platform content on its way into a prompt, and
// generated text on its way out to the platform.
package safety

import (
	"regexp"
	"strings"
)

// Verdict classifies inbound platform content.
type Verdict int

const (
	// VerdictClean means the content is safe to feed into a prompt.
	VerdictClean Verdict = iota
	// VerdictSuspicious means the content carries injection markers but
	// may proceed with logging.
	VerdictSuspicious
	// VerdictHostile means the content is a prompt injection attempt
	// and must not reach the model.
	VerdictHostile
)

// InboundFinding is the outcome of screening one content item.
type InboundFinding struct {
	Verdict Verdict
	Reason  string
}

type injectionPattern struct {
	re      *regexp.Regexp
	verdict Verdict
	reason  string
}

var injectionPatterns = []injectionPattern{
	// Instruction override, English and Chinese.
	{
		re:      regexp.MustCompile(`(?i)\bignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)\b`),
		verdict: VerdictHostile,
		reason:  "instruction override",
	},
	{
		re:      regexp.MustCompile(`忽略(之前|以上|上面)的(指示|指令|规则|提示)`),
		verdict: VerdictHostile,
		reason:  "instruction override",
	},
	{
		re:      regexp.MustCompile(`(?i)\byou\s+are\s+now\s+(a|an|the)\s+\w+`),
		verdict: VerdictHostile,
		reason:  "identity override",
	},
	{
		re:      regexp.MustCompile(`你现在(是|扮演|成为)`),
		verdict: VerdictHostile,
		reason:  "identity override",
	},
	{
		re:      regexp.MustCompile(`(?i)\b(reveal|show|print|repeat)\s+(\w+\s+)?(your\s+)?(system\s+)?(prompt|instructions?)\b`),
		verdict: VerdictHostile,
		reason:  "prompt extraction",
	},
	{
		re:      regexp.MustCompile(`(说出|透露|重复)你的(系统)?(提示词|指令)`),
		verdict: VerdictHostile,
		reason:  "prompt extraction",
	},
	// Markers that show up in injection attempts but also in ordinary
	// posts about AI tooling.
	{
		re:      regexp.MustCompile(`(?i)\[\s*SYSTEM\s*\]`),
		verdict: VerdictSuspicious,
		reason:  "system tag marker",
	},
	{
		re:      regexp.MustCompile(`(?i)<\s*\|?\s*(system|im_start|im_end)\s*\|?\s*>`),
		verdict: VerdictSuspicious,
		reason:  "chat template marker",
	},
}

// ScreenInbound checks a platform item before it is embedded into a
// prompt. The worst verdict across all matches wins.
func ScreenInbound(title, content string) InboundFinding {
	text := strings.TrimSpace(title + "\n" + content)
	if text == "" {
		return InboundFinding{Verdict: VerdictClean}
	}

	finding := InboundFinding{Verdict: VerdictClean}
	for _, pat := range injectionPatterns {
		if !pat.re.MatchString(text) {
			continue
		}
		if pat.verdict > finding.Verdict {
			finding = InboundFinding{Verdict: pat.verdict, Reason: pat.reason}
		}
	}
	return finding
}

// Leak describes a credential-shaped string found in generated text.
type Leak struct {
	Kind   string
	Sample string // truncated match, safe to log
}

var leakPatterns = []struct {
	re   *regexp.Regexp
	kind string
}{
	{regexp.MustCompile(`(?i)(api[_-]?key|apikey)\s*[:=]\s*"?[A-Za-z0-9_\-./+=]{16,}"?`), "api key"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-./+=]{16,}`), "bearer token"},
	{regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`), "provider key"},
	{regexp.MustCompile(`-----BEGIN\s+(RSA\s+)?PRIVATE\s+KEY-----`), "private key"},
	{regexp.MustCompile(`(?i)(password|passwd|密码)\s*[:=：]\s*"?[^\s"]{8,}"?`), "password"},
}

// ScreenOutbound scans text about to be posted for leaked secrets. A
// non-empty result means the post must not go out.
func ScreenOutbound(text string) []Leak {
	if text == "" {
		return nil
	}
	var leaks []Leak
	for _, pat := range leakPatterns {
		for _, match := range pat.re.FindAllString(text, 3) {
			sample := match
			if len(sample) > 20 {
				sample = sample[:17] + "..."
			}
			leaks = append(leaks, Leak{Kind: pat.kind, Sample: sample})
		}
	}
	return leaks
}
