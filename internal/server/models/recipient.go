package models

import "time"

type RecipientStatus string

const (
	RecipientInvited  RecipientStatus = "INVITED"
	RecipientViewed   RecipientStatus = "VIEWED"
	RecipientSigned   RecipientStatus = "SIGNED"
	RecipientDeclined RecipientStatus = "DECLINED"
)

// Recipient is a party required to act on an envelope, in a defined order.
//
// Token is the sole bearer credential for the public signing link: an
// opaque, high-entropy capability, never a guessable identifier.
// SigningOrder controls who may act; equal orders may act in parallel.
type Recipient struct {
	ID            string
	EnvelopeID    string
	Name          string
	Email         string
	Token         string
	SigningOrder  int
	Status        RecipientStatus
	DeclineReason string
	ViewedAt      *time.Time
	SignedAt      *time.Time

	CreatedAt time.Time
}

func (s RecipientStatus) Terminal() bool {
	return s == RecipientSigned || s == RecipientDeclined
}

// CanTransition reports whether recipient status may advance to the given
// status. Status is monotonic: INVITED→VIEWED→SIGNED, or any non-terminal
// state→DECLINED.
func (s RecipientStatus) CanTransition(to RecipientStatus) bool {
	switch to {
	case RecipientViewed:
		return s == RecipientInvited
	case RecipientSigned:
		return s == RecipientInvited || s == RecipientViewed
	case RecipientDeclined:
		return !s.Terminal()
	default:
		return false
	}
}

// CanAct reports whether the recipient may sign now: it must not be in a
// terminal state, and every other recipient with a strictly lower signing
// order must already be SIGNED. Recipients sharing an order may sign
// concurrently.
func CanAct(r *Recipient, all []*Recipient) bool {
	if r.Status != RecipientInvited && r.Status != RecipientViewed {
		return false
	}
	for _, other := range all {
		if other.ID == r.ID {
			continue
		}
		if other.SigningOrder < r.SigningOrder && other.Status != RecipientSigned {
			return false
		}
	}
	return true
}
