// Package models defines server-side data models persisted in the database.
package models

type FieldType string

const (
	FieldSignature FieldType = "SIGNATURE"
	FieldInitial   FieldType = "INITIAL"
	FieldDate      FieldType = "DATE"
	FieldText      FieldType = "TEXT"
	FieldCheckbox  FieldType = "CHECKBOX"
)

// SignatureField is a typed, positioned placeholder a recipient must fill.
// Coordinates are normalized page fractions in [0,1]; Page is 1-based.
// Geometry and type are immutable once the envelope is SENT; Value is
// committed by the submission processor.
type SignatureField struct {
	ID          string
	RecipientID string
	Type        FieldType
	Page        int
	CoordX      float64
	CoordY      float64
	CoordW      float64
	CoordH      float64
	Value       string
}

func (t FieldType) Valid() bool {
	switch t {
	case FieldSignature, FieldInitial, FieldDate, FieldText, FieldCheckbox:
		return true
	}
	return false
}

// NeedsImage reports whether the field is filled with an image payload
// rather than text.
func (t FieldType) NeedsImage() bool {
	return t == FieldSignature || t == FieldInitial
}
