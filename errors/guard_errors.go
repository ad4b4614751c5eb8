package errors

import (
	"errors"

	"gateguard/jsonx"
)

// GuardErrorCode represents standardized error codes for admission control
type GuardErrorCode string

const (
	// General errors
	ErrCodeInternal GuardErrorCode = "internal_error"

	// Configuration errors
	ErrCodeConfigInvalid   GuardErrorCode = "config_invalid"
	ErrCodeRuleInvalid     GuardErrorCode = "rule_invalid"
	ErrCodeDuplicateRuleID GuardErrorCode = "duplicate_rule_id"

	// Dependency errors
	ErrCodeCounterUnavailable GuardErrorCode = "counter_store_unavailable"
	ErrCodeBlocklistFailure   GuardErrorCode = "blocklist_failure"
	ErrCodeEvalTimeout        GuardErrorCode = "evaluation_timeout"

	// Threat-feed errors
	ErrCodeFeedStale       GuardErrorCode = "feed_stale"
	ErrCodeFeedInvalid     GuardErrorCode = "feed_invalid"
	ErrCodeFeedBadSig      GuardErrorCode = "feed_bad_signature"
	ErrCodeFeedUnreachable GuardErrorCode = "feed_unreachable"
)

// GuardError is a standardized engine error carrying a stable code
type GuardError struct {
	Code    GuardErrorCode `json:"code"`
	Message string         `json:"message"`
}

// Error implements the error interface
func (e *GuardError) Error() string {
	msg, _ := jsonx.MarshalString(GuardError{
		Code:    e.Code,
		Message: e.Message,
	})
	return msg
}

// Error message constants - user-friendly and concise
const (
	ErrMsgInternal           = "Server error, please try again"
	ErrMsgConfigInvalid      = "Rule set is invalid and was rejected"
	ErrMsgCounterUnavailable = "Counter store could not be reached"
	ErrMsgEvalTimeout        = "Rule evaluation exceeded its deadline"
	ErrMsgFeedStale          = "Threat feed has not refreshed within its maximum age"
	ErrMsgFeedInvalid        = "Threat feed payload failed validation"
	ErrMsgFeedBadSig         = "Threat feed signature verification failed"
)

// NewError creates a new GuardError and returns it as error interface
func NewError(code GuardErrorCode, message string) error {
	return &GuardError{
		Code:    code,
		Message: message,
	}
}

// CodeOf extracts the GuardErrorCode from err, or ErrCodeInternal when err
// is not a GuardError.
func CodeOf(err error) GuardErrorCode {
	var ge *GuardError
	if errors.As(err, &ge) {
		return ge.Code
	}
	return ErrCodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code GuardErrorCode) bool {
	return CodeOf(err) == code
}
