package disposition

import "testing"

func TestClassify_KnownCodes(t *testing.T) {
	cases := []struct {
		code string
		want Outcome
	}{
		{"completed", OutcomeSuccess},
		{"caller_hangup", OutcomeSuccess},
		{"callee_hangup", OutcomeSuccess},
		{"transferred", OutcomeSuccess},
		{"voicemail_left", OutcomeSuccess},

		{"busy", OutcomeRetryIncrement},
		{"no_answer", OutcomeRetryIncrement},
		{"dial_failed", OutcomeRetryIncrement},
		{"declined", OutcomeRetryIncrement},
		{"marked_spam", OutcomeRetryIncrement},

		{"invalid_number", OutcomePermanentFailure},
		{"permission_denied", OutcomePermanentFailure},
		{"payment_required", OutcomePermanentFailure},
		{"fraud_detected", OutcomePermanentFailure},
		{"never_joined", OutcomePermanentFailure},

		{"timeout", OutcomeRetryNoIncrement},
		{"concurrency_limit", OutcomeRetryNoIncrement},
		{"resource_exhausted", OutcomeRetryNoIncrement},
		{"audio_error", OutcomeRetryNoIncrement},
		{"asr_error", OutcomeRetryNoIncrement},
		{"provider_outage", OutcomeRetryNoIncrement},
		{"routing_error", OutcomeRetryNoIncrement},
		{"internal_error", OutcomeRetryNoIncrement},
	}

	for _, tc := range cases {
		if got := Classify(tc.code); got != tc.want {
			t.Fatalf("Classify(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestClassify_NormalizesCase(t *testing.T) {
	if got := Classify("  Busy "); got != OutcomeRetryIncrement {
		t.Fatalf("expected case/space-insensitive match, got %v", got)
	}
	if got := Classify("NO_ANSWER"); got != OutcomeRetryIncrement {
		t.Fatalf("expected upper-case match, got %v", got)
	}
}

func TestClassify_UnknownCodeIsUnclassified(t *testing.T) {
	for _, code := range []string{"", "carrier_glitch", "some_new_code"} {
		if got := Classify(code); got != OutcomeUnclassified {
			t.Fatalf("Classify(%q) = %v, want OutcomeUnclassified", code, got)
		}
	}
}

func TestClassify_NoCodeInTwoSets(t *testing.T) {
	sets := []map[string]bool{successCodes, retryIncrementCodes, permanentFailureCodes, retryNoIncrementCodes}
	seen := map[string]bool{}
	for _, s := range sets {
		for code := range s {
			if seen[code] {
				t.Fatalf("code %q appears in more than one membership set", code)
			}
			seen[code] = true
		}
	}
}
