package models

import "time"

type EnvelopeStatus string

const (
	EnvelopeDraft     EnvelopeStatus = "DRAFT"
	EnvelopeSent      EnvelopeStatus = "SENT"
	EnvelopeCompleted EnvelopeStatus = "COMPLETED"
	EnvelopeCancelled EnvelopeStatus = "CANCELLED"
)

// Envelope is a signing transaction wrapping one document and its
// recipients/fields. Status only moves DRAFT→SENT→COMPLETED, or
// DRAFT/SENT→CANCELLED; COMPLETED and CANCELLED are terminal.
type Envelope struct {
	ID         string
	ContractID string
	Title      string
	Status     EnvelopeStatus

	// SourceFileVersionID points at the PDF version being signed.
	// CompletedFileVersionID is attached asynchronously after the
	// finalizer flattens the signed artifact.
	SourceFileVersionID    string
	CompletedFileVersionID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (s EnvelopeStatus) Terminal() bool {
	return s == EnvelopeCompleted || s == EnvelopeCancelled
}

// CanTransition reports whether the status machine allows moving to the
// given status.
func (s EnvelopeStatus) CanTransition(to EnvelopeStatus) bool {
	switch to {
	case EnvelopeSent:
		return s == EnvelopeDraft
	case EnvelopeCompleted:
		return s == EnvelopeSent
	case EnvelopeCancelled:
		return s == EnvelopeDraft || s == EnvelopeSent
	default:
		return false
	}
}
