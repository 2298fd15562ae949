// Package fields holds the field placement model: pure validation of a
// recipient's submission against the frozen field geometry/type contract.
// It has no side effects and never invents default values.
package fields

import (
	"sort"

	"github.com/avolkov/signdesk/internal/common"
	"github.com/avolkov/signdesk/internal/server/models"
)

// Validate checks the shape of a submission against the recipient's fields.
//
// Rules:
//   - CHECKBOX values, when present, must be exactly "true" or "false".
//   - TEXT and DATE fields must carry a non-empty value.
//   - SIGNATURE/INITIAL values, when present, must be non-empty; when
//     absent they may be satisfied by the per-submission captured image,
//     so a blank one is only an error if no image was captured either.
//
// On failure it returns a *common.ValidationError carrying the offending
// field ids, sorted for deterministic output.
func Validate(flds []*models.SignatureField, sub *models.Submission) error {
	var bad []string

	for _, f := range flds {
		value, present := sub.FieldValues[f.ID]

		switch f.Type {
		case models.FieldCheckbox:
			if present && value != "true" && value != "false" {
				bad = append(bad, f.ID)
			}
		case models.FieldSignature, models.FieldInitial:
			if present && value == "" {
				bad = append(bad, f.ID)
			}
			if !present && sub.SignatureImage == "" {
				bad = append(bad, f.ID)
			}
		default:
			if value == "" {
				bad = append(bad, f.ID)
			}
		}
	}

	if len(bad) > 0 {
		sort.Strings(bad)
		return &common.ValidationError{FieldIDs: bad}
	}

	return nil
}
