package sideshift

import "strings"

// Status is the backend lifecycle state of a shift. Values outside the known
// set are kept verbatim and classified as unknown.
type Status string

const (
	StatusWaiting    Status = "waiting"    // Waiting for the user's deposit
	StatusProcessing Status = "processing" // Deposit seen, exchange in progress
	StatusSettling   Status = "settling"   // Sending funds on the destination network
	StatusSettled    Status = "settled"    // Done
	StatusExpired    Status = "expired"    // Deposit window closed
	StatusRefund     Status = "refund"     // Refund pending
	StatusRefunded   Status = "refunded"   // Refund sent
)

// Tone groups statuses for presentation.
type Tone string

const (
	TonePending Tone = "pending"
	ToneActive  Tone = "active"
	ToneSuccess Tone = "success"
	ToneFailure Tone = "failure"
	ToneNeutral Tone = "neutral"
)

func ParseStatus(v string) Status {
	return Status(strings.ToLower(strings.TrimSpace(v)))
}

// Known reports whether s is one of the documented statuses.
func (s Status) Known() bool {
	switch s {
	case StatusWaiting, StatusProcessing, StatusSettling, StatusSettled, StatusExpired, StatusRefund, StatusRefunded:
		return true
	default:
		return false
	}
}

// IsTerminal reports whether no further change is expected. Unknown statuses
// are never terminal.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSettled, StatusExpired, StatusRefund, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) Tone() Tone {
	switch s {
	case StatusWaiting:
		return TonePending
	case StatusProcessing, StatusSettling:
		return ToneActive
	case StatusSettled:
		return ToneSuccess
	case StatusExpired, StatusRefund, StatusRefunded:
		return ToneFailure
	default:
		return ToneNeutral
	}
}

// Description is the user-facing sentence shown next to the status.
func (s Status) Description() string {
	switch s {
	case StatusWaiting:
		return "Waiting for your deposit..."
	case StatusProcessing:
		return "Processing your deposit..."
	case StatusSettling:
		return "Settling to destination network..."
	case StatusSettled:
		return "Bridge complete! Your funds have been sent."
	case StatusExpired:
		return "Shift expired. Please create a new one."
	case StatusRefund, StatusRefunded:
		return "Shift refunded."
	default:
		return ""
	}
}

func (s Status) String() string { return string(s) }
