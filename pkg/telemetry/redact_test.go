// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package telemetry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedact(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"email", "reach me at jane.doe+ads@example.co.uk thanks", "reach me at " + RedactedEmail + " thanks"},
		{"phone", "call +1 (415) 555-0123 now", "call " + RedactedPhone + " now"},
		{"long hex id", "idfa deadbeefcafef00d1234 seen", "idfa " + RedactedID + " seen"},
		{"short hex untouched", "color ff00ff", "color ff00ff"},
		{"plain text untouched", "interstitial no_fill after 120ms", "interstitial no_fill after 120ms"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Redact(tc.in))
		})
	}
}

func TestRedactPayloadCopies(t *testing.T) {
	in := map[string]string{"k": "a@b.io"}
	out := redactPayload(in)
	assert.Equal(t, RedactedEmail, out["k"])
	assert.Equal(t, "a@b.io", in["k"], "input map is left untouched")
}
