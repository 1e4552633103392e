package services

import "errors"

// Every failure the frontend must render differently gets its own
// sentinel. Handlers translate them into HTTP statuses plus stable code
// strings; raw storage errors never cross the service boundary.
var (
	// ErrNotParticipant: the caller holds no role in the chat at all.
	ErrNotParticipant = errors.New("caller is not a participant of this chat")
	// ErrNotRecipient: only the recipient may accept or decline.
	ErrNotRecipient = errors.New("only the recipient can perform this action")
	// ErrNotInitiator: only the initiator may extend.
	ErrNotInitiator = errors.New("only the initiator can perform this action")
	// ErrWrongRole: the caller has a role, just not the one this action
	// needs (retry edges with varying requirements).
	ErrWrongRole = errors.New("caller's role cannot perform this action")
	// ErrInvalidState: transition illegal from the current status,
	// including lost conditional-update races.
	ErrInvalidState = errors.New("chat is not in a valid state for this action")
	// ErrExtensionsExhausted: all three lifetime extensions used.
	ErrExtensionsExhausted = errors.New("no remaining extensions")

	ErrChatNotFound      = errors.New("chat not found")
	ErrRecipientNotFound = errors.New("recipient not found")
	ErrValidation        = errors.New("invalid input")
)

// ErrorCode returns the stable machine-readable code for a service
// error, or empty when the error is not part of the taxonomy.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrNotParticipant):
		return "NOT_PARTICIPANT"
	case errors.Is(err, ErrNotRecipient):
		return "NOT_RECIPIENT"
	case errors.Is(err, ErrNotInitiator):
		return "NOT_INITIATOR"
	case errors.Is(err, ErrWrongRole):
		return "WRONG_ROLE_FOR_ACTION"
	case errors.Is(err, ErrInvalidState):
		return "INVALID_STATE_FOR_ACTION"
	case errors.Is(err, ErrExtensionsExhausted):
		return "EXTENSIONS_EXHAUSTED"
	case errors.Is(err, ErrChatNotFound):
		return "CHAT_NOT_FOUND"
	case errors.Is(err, ErrRecipientNotFound):
		return "RECIPIENT_NOT_FOUND"
	case errors.Is(err, ErrValidation):
		return "VALIDATION_ERROR"
	default:
		return ""
	}
}

// PublicMessage returns text safe to show a client for any error.
func PublicMessage(err error) string {
	if ErrorCode(err) != "" {
		return err.Error()
	}
	return "failed to process chat request"
}
