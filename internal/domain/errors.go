package domain

import "errors"

// Code is a stable, client-facing error code.
type Code string

const (
	CodeExclusiveBlocked Code = "EXCLUSIVE_BLOCKED"
	CodeSenderBusy       Code = "SENDER_BUSY"
	CodeTalkBusy         Code = "TALK_SLOT_BUSY"
	CodeTooManyPeers     Code = "TOO_MANY_PEERS"
	CodeForbidden        Code = "FORBIDDEN"
	CodeInvalidRole      Code = "INVALID_ROLE"
	CodeDeviceError      Code = "DEVICE_ERROR"
	CodeInvalidParameter Code = "INVALID_PARAMETER"
	CodeUnknownParameter Code = "UNKNOWN_PARAMETER"
	CodeAuthRequired     Code = "AUTH_REQUIRED"
	CodeAuthInvalid      Code = "AUTH_INVALID"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

var (
	ErrExclusiveBlocked = errors.New("another client holds the exclusive lock")
	ErrSenderBusy       = errors.New("another sender is active")
	ErrTalkBusy         = errors.New("talk slot is busy")
	ErrTooManyPeers     = errors.New("too many peer connections")
	ErrNotOwner         = errors.New("peer connection belongs to another session")
	ErrInvalidRole      = errors.New("invalid role for this operation")
	ErrDeviceInactive   = errors.New("device is not active")
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrUnknownParameter = errors.New("unknown parameter")
	ErrAuthRequired     = errors.New("authentication required")
	ErrAuthInvalid      = errors.New("invalid or expired credentials")
	ErrRateLimited      = errors.New("too many authentication attempts")
)

var codes = []struct {
	err  error
	code Code
}{
	{ErrExclusiveBlocked, CodeExclusiveBlocked},
	{ErrSenderBusy, CodeSenderBusy},
	{ErrTalkBusy, CodeTalkBusy},
	{ErrTooManyPeers, CodeTooManyPeers},
	{ErrNotOwner, CodeForbidden},
	{ErrInvalidRole, CodeInvalidRole},
	{ErrDeviceInactive, CodeDeviceError},
	{ErrUnknownParameter, CodeUnknownParameter},
	{ErrInvalidParameter, CodeInvalidParameter},
	{ErrAuthRequired, CodeAuthRequired},
	{ErrAuthInvalid, CodeAuthInvalid},
	{ErrRateLimited, CodeRateLimited},
}

// CodeOf maps err (possibly wrapped) to its stable code.
func CodeOf(err error) Code {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return c.code
		}
	}
	return CodeInternal
}

// PublicMessage returns a message safe to show to clients. Unexpected errors
// never leak their text.
func PublicMessage(err error) string {
	for _, c := range codes {
		if errors.Is(err, c.err) {
			return err.Error()
		}
	}
	return "internal error"
}
