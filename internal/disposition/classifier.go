package disposition

import "strings"

// Outcome is the scheduling category of a call termination code.
//
// Every code the telephony layer can report must be listed in exactly one of
// the membership sets below. Codes missing from all sets classify as
// OutcomeUnclassified, which the scheduler treats as a permanent delete
// (fail-safe against unbounded retries for unknown codes).
type Outcome string

const (
	// OutcomeSuccess: the call completed as intended; the work item is done.
	OutcomeSuccess Outcome = "success"

	// OutcomeRetryIncrement: a real attempt that failed for reasons
	// attributable to the callee. Counts against the retry ceiling.
	OutcomeRetryIncrement Outcome = "retry_increment"

	// OutcomeRetryNoIncrement: a system/technical failure not attributable
	// to the callee. Rescheduled without consuming an attempt.
	OutcomeRetryNoIncrement Outcome = "retry_no_increment"

	// OutcomePermanentFailure: retrying can never succeed.
	OutcomePermanentFailure Outcome = "permanent_failure"

	// OutcomeUnclassified: code not present in any membership set.
	OutcomeUnclassified Outcome = "unclassified"
)

// Membership sets are static by design: new provider codes must be classified
// explicitly, never inferred.
var (
	successCodes = codeSet(
		"completed",
		"caller_hangup",
		"callee_hangup",
		"transferred",
		"voicemail_left",
	)

	retryIncrementCodes = codeSet(
		"busy",
		"no_answer",
		"dial_failed",
		"declined",
		"marked_spam",
	)

	permanentFailureCodes = codeSet(
		"invalid_number",
		"permission_denied",
		"payment_required",
		"fraud_detected",
		"never_joined",
	)

	retryNoIncrementCodes = codeSet(
		"timeout",
		"concurrency_limit",
		"resource_exhausted",
		"audio_error",
		"asr_error",
		"provider_outage",
		"routing_error",
		"internal_error",
	)
)

// Classify maps a termination code to its scheduling outcome.
// Pure: no side effects, safe for concurrent use.
func Classify(code string) Outcome {
	c := strings.ToLower(strings.TrimSpace(code))
	switch {
	case successCodes[c]:
		return OutcomeSuccess
	case retryIncrementCodes[c]:
		return OutcomeRetryIncrement
	case permanentFailureCodes[c]:
		return OutcomePermanentFailure
	case retryNoIncrementCodes[c]:
		return OutcomeRetryNoIncrement
	default:
		return OutcomeUnclassified
	}
}

func codeSet(codes ...string) map[string]bool {
	m := make(map[string]bool, len(codes))
	for _, c := range codes {
		m[c] = true
	}
	return m
}
