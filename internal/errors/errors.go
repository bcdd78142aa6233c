package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeInternal Code = 1
	CodeUsage    Code = 2

	// Backend transport taxonomy.
	CodeNetwork     Code = 10
	CodeServer      Code = 11
	CodeNotFound    Code = 12
	CodeValidation  Code = 13
	CodeRateLimited Code = 14

	// Client-side shift checks.
	CodeWalletNotConnected        Code = 20
	CodeInvalidAmount             Code = 21
	CodeMissingSourceNetwork      Code = 22
	CodeMissingDestNetwork        Code = 23
	CodeAmountBelowMinimum        Code = 24
	CodeInsufficientBalanceForGas Code = 25
	CodeNetworkMismatch           Code = 26
	CodeNoBalance                 Code = 27
	CodeUnsupported               Code = 28

	CodeStale         Code = 30
	CodeBlocked       Code = 31
	CodeMonitorFailed Code = 32
)

const fallbackMessage = "An unexpected error occurred"

var codeTypes = map[Code]string{
	CodeInternal:                  "internal_error",
	CodeUsage:                     "usage_error",
	CodeNetwork:                   "network_error",
	CodeServer:                    "server_error",
	CodeNotFound:                  "not_found",
	CodeValidation:                "validation_error",
	CodeRateLimited:               "rate_limited",
	CodeWalletNotConnected:        "wallet_not_connected",
	CodeInvalidAmount:             "invalid_amount",
	CodeMissingSourceNetwork:      "missing_source_network",
	CodeMissingDestNetwork:        "missing_dest_network",
	CodeAmountBelowMinimum:        "amount_below_minimum",
	CodeInsufficientBalanceForGas: "insufficient_balance_for_gas",
	CodeNetworkMismatch:           "network_mismatch",
	CodeNoBalance:                 "no_balance",
	CodeUnsupported:               "unsupported",
	CodeStale:                     "stale_data",
	CodeBlocked:                   "command_blocked",
	CodeMonitorFailed:             "monitor_failed",
}

// Type returns the snake_case name used in error envelopes.
func (c Code) Type() string {
	if v, ok := codeTypes[c]; ok {
		return v
	}
	return "internal_error"
}

// Error is a typed error that carries a stable error code. Message is always
// safe to show to a user as-is; Status is the HTTP status when one was received.
type Error struct {
	Code    Code
	Message string
	Status  int
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil || e.Cause.Error() == e.Message {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	cErr, ok := As(err)
	return ok && cErr.Code == code
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// UserMessage returns the single display string for err.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if cErr, ok := As(err); ok {
		if msg := strings.TrimSpace(cErr.Message); msg != "" {
			return msg
		}
		if cErr.Cause != nil {
			if msg := strings.TrimSpace(cErr.Cause.Error()); msg != "" {
				return msg
			}
		}
		return fallbackMessage
	}
	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return fallbackMessage
}
