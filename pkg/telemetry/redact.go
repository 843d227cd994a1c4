// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package telemetry

import "regexp"

// Placeholder tokens substituted for recognizable PII.
const (
	RedactedEmail = "[redacted-email]"
	RedactedID    = "[redacted-id]"
	RedactedPhone = "[redacted-phone]"
)

// Heuristic patterns. Best-effort: they may both over- and under-redact
// and are not exhaustive PII detectors.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	hexIDPattern = regexp.MustCompile(`\b[0-9a-fA-F]{16,}\b`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
)

// Redact replaces email addresses, long hexadecimal identifiers, and
// phone-number patterns with fixed placeholder tokens.
func Redact(s string) string {
	s = emailPattern.ReplaceAllString(s, RedactedEmail)
	s = hexIDPattern.ReplaceAllString(s, RedactedID)
	s = phonePattern.ReplaceAllString(s, RedactedPhone)
	return s
}

// redactPayload returns a copy of m with every value redacted, so raw
// values are never buffered.
func redactPayload(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = Redact(v)
	}
	return out
}
