// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package consent

import "strings"

// ParsedTCF is the result of the structural TCF check. Parsed is a
// best-effort indicator, not a claim that the binary consent ranges
// were decoded; Raw always carries the original string.
type ParsedTCF struct {
	Parsed      bool
	GDPRApplies bool
	Raw         string
}

const tcfCharset = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_"

// ParseTCF performs a heuristic structural check on a raw TCF string:
// the string must be non-empty, contain the segment separator, and use
// only the base64url character set. Malformed input degrades to
// Parsed=false without an error.
func ParseTCF(raw string, gdprApplies bool) ParsedTCF {
	out := ParsedTCF{GDPRApplies: gdprApplies, Raw: raw}
	if raw == "" || !strings.Contains(raw, ".") {
		return out
	}
	for _, seg := range strings.Split(raw, ".") {
		if seg == "" {
			return out
		}
		for _, r := range seg {
			if !strings.ContainsRune(tcfCharset, r) {
				return out
			}
		}
	}
	out.Parsed = true
	return out
}
