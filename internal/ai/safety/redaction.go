package safety

import (
	"regexp"
	"strings"
)

// redaction is one secret shape and its replacement.
type redaction struct {
	name    string
	pattern *regexp.Regexp
	replace string
}

var redactions = []redaction{
	{
		name:    "key_value",
		pattern: regexp.MustCompile(`(?i)\b((?:password|passwd|passphrase|secret|token|api[_-]?key|client[_-]?secret|private[_-]?key)\s*[:=]\s*)\S+`),
		replace: "${1}[REDACTED]",
	},
	{
		name:    "bearer",
		pattern: regexp.MustCompile(`(?i)\b(authorization\s*:\s*bearer\s+)[A-Za-z0-9\-._~+/]+=*`),
		replace: "${1}[REDACTED]",
	},
	{
		name:    "openai_key",
		pattern: regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{20,}\b`),
		replace: "[REDACTED_API_KEY]",
	},
	{
		name:    "aws_access_key",
		pattern: regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
		replace: "[REDACTED_AWS_ACCESS_KEY]",
	},
	{
		name:    "jwt",
		pattern: regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`),
		replace: "[REDACTED_JWT]",
	},
}

var (
	pemBlockRE = regexp.MustCompile(`(?s)-----BEGIN [A-Z0-9 ]+-----.*?(?:-----END [A-Z0-9 ]+-----|$)`)
	// shadow(5) entries: name:$id$salt$hash:...
	shadowHashRE = regexp.MustCompile(`(?m)^([a-z_][a-z0-9_-]*\$?:)\$[0-9a-z]+\$[^:\s]+`)
)

// Redact masks likely secrets in command output before it is stored in the
// audit log or written to logs. The model still sees the raw output; this only
// limits what leaves the process. It returns the masked text and the number
// of replacements made.
func Redact(input string) (string, int) {
	if input == "" {
		return input, 0
	}

	count := 0
	out := pemBlockRE.ReplaceAllStringFunc(input, func(string) string {
		count++
		return "[REDACTED PEM BLOCK]"
	})
	out = shadowHashRE.ReplaceAllStringFunc(out, func(m string) string {
		count++
		return shadowHashRE.ReplaceAllString(m, "${1}[REDACTED]")
	})

	for _, r := range redactions {
		matches := len(r.pattern.FindAllStringIndex(out, -1))
		if matches == 0 {
			continue
		}
		count += matches
		out = r.pattern.ReplaceAllString(out, r.replace)
	}
	return out, count
}

// Preview returns the redacted first max runes of s, with an ellipsis when
// truncated.
func Preview(s string, max int) string {
	s, _ = Redact(strings.TrimSpace(s))
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
