package lifecycle

import (
	"errors"
	"time"

	"github.com/arda-t/ScoutChatBack/internal/models"
)

// Window is how long an accepted chat stays open, and how much time each
// extension adds.
const Window = 3 * 24 * time.Hour

// MaxExtensions caps extensions across the chat's whole lifetime, not per
// acceptance cycle. An expired-chat retry consumes a slot too.
const MaxExtensions = 3

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleRecipient Role = "recipient"
	RoleSystem    Role = "system"
)

type Action string

const (
	ActionAccept  Action = "accept"
	ActionDecline Action = "decline"
	ActionEnd     Action = "end"
	ActionExtend  Action = "extend"
	ActionExpire  Action = "expire"
	ActionMessage Action = "message"
)

var (
	ErrWrongRole           = errors.New("wrong role for action")
	ErrInvalidState        = errors.New("invalid state for action")
	ErrExtensionsExhausted = errors.New("no remaining extensions")
)

// Snapshot is the slice of a chat the machine decides on. It carries no
// identity so the machine stays a pure function.
type Snapshot struct {
	Status         models.ChatStatus
	ClosedBy       *models.CloseActor
	ExtensionCount int
	// RecipientReplied is true once the recipient has sent any message
	// in the current pending cycle. It gates the single "first reply".
	RecipientReplied bool
}

// Outcome describes the transition the caller must persist. The
// persistence layer re-checks the expected current status in the same
// statement, so a racing actor loses cleanly.
type Outcome struct {
	Next     models.ChatStatus
	ClosedBy *models.CloseActor

	// Noop marks an idempotent repeat of a terminal action: report
	// success, persist nothing, broadcast nothing.
	Noop bool

	// SetAccepted: stamp acceptedAt=now, expiresAt=now+Window.
	SetAccepted bool
	// ExtendExpiry: expiresAt += Window, extensionCount += 1.
	ExtendExpiry bool
	// ConsumeExtension: expired-chat retry; expiresAt=now+Window,
	// extensionCount += 1.
	ConsumeExtension bool
	// SwapRoles: the message sender becomes initiator, the counterpart
	// recipient, for the new cycle.
	SwapRoles bool
	// ClearClosure: closedBy is reset; a chat re-entering PENDING also
	// resets acceptedAt and expiresAt for the new cycle.
	ClearClosure bool
}

// RoleFor resolves userID's standing role in a chat. ok is false when the
// user is not a participant at all.
func RoleFor(initiatorID, recipientID, userID int64) (Role, bool) {
	switch userID {
	case initiatorID:
		return RoleInitiator, true
	case recipientID:
		return RoleRecipient, true
	default:
		return "", false
	}
}

// Decide computes the legal outcome of action performed by role against
// the chat snapshot. It performs no I/O.
func Decide(s Snapshot, action Action, role Role) (Outcome, error) {
	switch action {
	case ActionAccept:
		return decideAccept(s, role)
	case ActionDecline:
		return decideDecline(s, role)
	case ActionEnd:
		return decideEnd(s, role)
	case ActionExtend:
		return decideExtend(s, role)
	case ActionExpire:
		return decideExpire(s, role)
	case ActionMessage:
		return decideMessage(s, role)
	default:
		return Outcome{}, ErrInvalidState
	}
}

func decideAccept(s Snapshot, role Role) (Outcome, error) {
	if s.Status != models.ChatPending {
		return Outcome{}, ErrInvalidState
	}
	if role != RoleRecipient {
		return Outcome{}, ErrWrongRole
	}
	return Outcome{Next: models.ChatAccepted, SetAccepted: true}, nil
}

func decideDecline(s Snapshot, role Role) (Outcome, error) {
	if role != RoleRecipient {
		return Outcome{}, ErrWrongRole
	}
	if s.Status == models.ChatDeclined {
		return Outcome{Next: models.ChatDeclined, Noop: true}, nil
	}
	if s.Status != models.ChatPending {
		return Outcome{}, ErrInvalidState
	}
	closedBy := models.ClosedByRecipient
	return Outcome{Next: models.ChatDeclined, ClosedBy: &closedBy}, nil
}

func decideEnd(s Snapshot, role Role) (Outcome, error) {
	if role != RoleInitiator && role != RoleRecipient {
		return Outcome{}, ErrWrongRole
	}
	if s.Status == models.ChatEnded {
		return Outcome{Next: models.ChatEnded, Noop: true}, nil
	}
	if s.Status != models.ChatAccepted {
		return Outcome{}, ErrInvalidState
	}
	closedBy := models.ClosedByInitiator
	if role == RoleRecipient {
		closedBy = models.ClosedByRecipient
	}
	return Outcome{Next: models.ChatEnded, ClosedBy: &closedBy}, nil
}

func decideExtend(s Snapshot, role Role) (Outcome, error) {
	if s.Status != models.ChatAccepted {
		return Outcome{}, ErrInvalidState
	}
	if role != RoleInitiator {
		return Outcome{}, ErrWrongRole
	}
	if s.ExtensionCount >= MaxExtensions {
		return Outcome{}, ErrExtensionsExhausted
	}
	return Outcome{Next: models.ChatAccepted, ExtendExpiry: true}, nil
}

func decideExpire(s Snapshot, role Role) (Outcome, error) {
	if role != RoleSystem {
		return Outcome{}, ErrWrongRole
	}
	if s.Status != models.ChatAccepted {
		// Already expired, or a participant closed it first. Either way
		// there is nothing left to do.
		return Outcome{Next: s.Status, Noop: true}, nil
	}
	closedBy := models.ClosedByExpiration
	return Outcome{Next: models.ChatExpired, ClosedBy: &closedBy}, nil
}

// decideMessage covers both ordinary sends and the retry edges out of the
// soft-terminal states.
func decideMessage(s Snapshot, role Role) (Outcome, error) {
	if role != RoleInitiator && role != RoleRecipient {
		return Outcome{}, ErrWrongRole
	}

	switch s.Status {
	case models.ChatAccepted:
		return Outcome{Next: models.ChatAccepted}, nil

	case models.ChatPending:
		if role == RoleInitiator {
			return Outcome{Next: models.ChatPending}, nil
		}
		// The recipient gets exactly one reply while pending; deciding is
		// done through accept/decline, not by chatting.
		if s.RecipientReplied {
			return Outcome{}, ErrInvalidState
		}
		return Outcome{Next: models.ChatPending}, nil

	case models.ChatDeclined:
		// Only the recipient that declined may reopen, and doing so makes
		// them the initiator of the new cycle.
		if role != RoleRecipient {
			return Outcome{}, ErrWrongRole
		}
		return Outcome{Next: models.ChatPending, SwapRoles: true, ClearClosure: true}, nil

	case models.ChatEnded:
		// Only the party that did not end it may reopen.
		if s.ClosedBy == nil {
			return Outcome{}, ErrInvalidState
		}
		closer := RoleInitiator
		if *s.ClosedBy == models.ClosedByRecipient {
			closer = RoleRecipient
		}
		if role == closer {
			return Outcome{}, ErrWrongRole
		}
		return Outcome{Next: models.ChatPending, SwapRoles: true, ClearClosure: true}, nil

	case models.ChatExpired:
		// Resurrecting an expired chat is an implicit extension: initiator
		// only, straight back to ACCEPTED, one slot consumed.
		if role != RoleInitiator {
			return Outcome{}, ErrWrongRole
		}
		if s.ExtensionCount >= MaxExtensions {
			return Outcome{}, ErrExtensionsExhausted
		}
		return Outcome{Next: models.ChatAccepted, ConsumeExtension: true, ClearClosure: true}, nil

	default:
		return Outcome{}, ErrInvalidState
	}
}
