package messaging

import (
	"errors"
	"fmt"
)

// Error kinds surfaced to callers. Match them with errors.Is.
var (
	ErrNotFound   = errors.New("not found")
	ErrBadRequest = errors.New("bad request")
	ErrForbidden  = errors.New("forbidden")
)

// ErrDirectExists is returned by a Store when a direct conversation for the
// same unordered pair already exists.
var ErrDirectExists = errors.New("direct conversation already exists")

// Error is a business-rule violation carrying a human readable message
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }
func (e *Error) Unwrap() error { return e.Kind }

func notFound(format string, args ...interface{}) error {
	return &Error{Kind: ErrNotFound, Message: fmt.Sprintf(format, args...)}
}

func badRequest(format string, args ...interface{}) error {
	return &Error{Kind: ErrBadRequest, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...interface{}) error {
	return &Error{Kind: ErrForbidden, Message: fmt.Sprintf(format, args...)}
}

// Common messages
const (
	msgRoomNotFound      = "Message room not found"
	msgGroupNotFound     = "Group not found"
	msgNotParticipant    = "You are not a participant in this conversation"
	msgNotGroupMember    = "You are not a member of this group"
	msgMediaRequired     = "At least one media file is required."
	msgCannotMessageSelf = "You cannot message yourself"
)
