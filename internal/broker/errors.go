package broker

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrInvalidNickname       = errors.New("nickname must be alphanumeric")
	ErrNoAnalystAvailable    = errors.New("no analyst online yet, please try again later")
	ErrRoomCreateFailed      = errors.New("creating chat room failed")
	ErrPresenceUpdateFailed  = errors.New("updating online status failed")
	ErrActiveRoomsExist      = errors.New("some conversation is still ongoing")
	ErrPreconditionViolation = errors.New("broker state precondition violated")
	ErrRecipientRequired     = errors.New("a message from an analyst must specify to whom it is sent")
	ErrNotAssigned           = errors.New("client is not communicating with this analyst")
	ErrInvalidRole           = errors.New("unknown user type")
)

// ResultCode is the numeric outcome reported to the request layer.
// Codes 1 to 4 are the login failure codes clients already rely on.
type ResultCode int

const (
	CodeOK ResultCode = iota
	CodeInvalidNickname
	CodeNoAnalystAvailable
	CodeRoomCreateFailed
	CodePresenceUpdateFailed
	CodeActiveRoomsExist
	CodePreconditionViolation
	CodeBadRequest
	CodeInternal ResultCode = 500
)

// Code maps an error returned by the broker to its result code.
func Code(err error) ResultCode {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrInvalidNickname):
		return CodeInvalidNickname
	case errors.Is(err, ErrNoAnalystAvailable):
		return CodeNoAnalystAvailable
	case errors.Is(err, ErrRoomCreateFailed):
		return CodeRoomCreateFailed
	case errors.Is(err, ErrPresenceUpdateFailed):
		return CodePresenceUpdateFailed
	case errors.Is(err, ErrActiveRoomsExist):
		return CodeActiveRoomsExist
	case errors.Is(err, ErrPreconditionViolation):
		return CodePreconditionViolation
	case errors.Is(err, ErrRecipientRequired), errors.Is(err, ErrNotAssigned), errors.Is(err, ErrInvalidRole):
		return CodeBadRequest
	default:
		return CodeInternal
	}
}

// fail ties a store failure to the broker error kind it caused.
func fail(kind, err error) error {
	return fmt.Errorf("%w: %w", kind, err)
}
