// Package wserr defines the machine-readable error vocabulary surfaced
// to lobby clients. Services return these; the socket layer forwards
// code+message verbatim and substitutes SERVER_ERROR for anything else.
package wserr

import "errors"

// Error carries a stable client-facing code alongside the message.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Code + ": " + e.Message }

// New builds an Error with a literal message.
func New(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Stable error codes.
const (
	CodeInvalidInput         = "INVALID_INPUT"
	CodeRateLimited          = "RATE_LIMITED"
	CodeNotInRoom            = "NOT_IN_ROOM"
	CodeRoomNotFound         = "ROOM_NOT_FOUND"
	CodeRoomFull             = "ROOM_FULL"
	CodeRoomNotAccepting     = "ROOM_NOT_ACCEPTING"
	CodeDuplicatePlayer      = "DUPLICATE_PLAYER"
	CodeConnectionInProgress = "CONNECTION_IN_PROGRESS"
	CodeUserNotFound         = "USER_NOT_FOUND"
	CodeCannotKickHost       = "CANNOT_KICK_HOST"
	CodeNotHost              = "NOT_HOST"
	CodePlayerNotFound       = "PLAYER_NOT_FOUND"
	CodeJoinFailed           = "JOIN_FAILED"
	CodeServerError          = "SERVER_ERROR"
	CodeRoomCreationFailed   = "ROOM_CREATION_FAILED"
)

// CodeOf extracts the client-facing code from err, or SERVER_ERROR when
// err is not one of ours. Internal faults never leak their text.
func CodeOf(err error) (code, message string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, e.Message
	}
	return CodeServerError, "internal server error"
}

// Is reports whether err carries the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == code
}
