package rails

// Status classifies a rail invocation result.
type Status string

const (
	// StatusSuccess means the money moved; ExternalRef may carry the
	// processor's reference.
	StatusSuccess Status = "success"
	// StatusFailure means the rail declined; the flow must restart.
	StatusFailure Status = "failure"
	// StatusNeedsPIN means the wallet holder must confirm with a PIN; the
	// flow suspends and resumes with the PIN supplied.
	StatusNeedsPIN Status = "needs_pin"
	// StatusAwaitingRef means the rail has no synchronous result; the caller
	// must later confirm with a transfer reference id.
	StatusAwaitingRef Status = "awaiting_ref"
)

// Outcome is the normalized result of a charge or payout attempt. Rails
// return it instead of an error for expected processor-side results; errors
// are reserved for infrastructure faults.
type Outcome struct {
	Status       Status `json:"status"`
	ExternalRef  string `json:"external_ref,omitempty"`
	Message      string `json:"message,omitempty"`
	RetryAllowed bool   `json:"retry_allowed,omitempty"`
}

// Success builds a successful outcome carrying the processor reference.
func Success(externalRef string) Outcome {
	return Outcome{Status: StatusSuccess, ExternalRef: externalRef}
}

// Failure builds a declined outcome with a caller-facing reason.
func Failure(reason string) Outcome {
	return Outcome{Status: StatusFailure, Message: reason}
}

// NeedsPIN builds a wallet PIN challenge outcome.
func NeedsPIN(message string, retryAllowed bool) Outcome {
	return Outcome{Status: StatusNeedsPIN, Message: message, RetryAllowed: retryAllowed}
}

// AwaitingRef builds the bank-transfer "no synchronous result" outcome.
func AwaitingRef(message string) Outcome {
	return Outcome{Status: StatusAwaitingRef, Message: message}
}
